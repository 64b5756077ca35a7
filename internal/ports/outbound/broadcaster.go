package outbound

// EventType represents the type of event being broadcasted
type EventType string

const (
	EventTypeAuctionCreated EventType = "auction.created"
	EventTypeBidAccepted    EventType = "bid.accepted"
	EventTypeAuctionEnded   EventType = "auction.ended"
)

// Event carries a committed auction state change out of the registry.
// Item holds a snapshot of the auction the event refers to; the mutation is
// always fully committed before the event is published, so a receiver can
// immediately query the state the event describes.
type Event struct {
	Type        EventType
	Description string
	Item        any
}

// Broadcaster defines the interface for delivering an event to every
// connected session.
type Broadcaster interface {
	Publish(event Event)
}
