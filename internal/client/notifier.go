package client

// Notifier is the push callback the presentation layer registers to hear
// about inbound events. Implementations must not block: callbacks run on
// the session's read goroutines.
type Notifier interface {
	// Info reports an informational event worth showing to the user.
	Info(text string)
	// Error reports a failure local to this client.
	Error(text string)
	// StateChanged signals that the mirrored auction or presence
	// snapshots changed and should be re-rendered.
	StateChanged()
}
