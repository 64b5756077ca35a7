package presence

import (
	"sort"
	"sync"
)

// UserInfo describes a connected user and the address other clients can
// reach it on for direct peer connections. Identity is the UserID alone;
// two records with the same id refer to the same user even if the other
// fields differ.
type UserInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Address  string `json:"address"`
	PeerPort int    `json:"peer_port"`
}

// Equal compares two user records by identity.
func (u UserInfo) Equal(other UserInfo) bool {
	return u.UserID == other.UserID
}

// Directory is a concurrent-safe mapping from user id to UserInfo, shared
// across all server connections. It backs peer rendezvous lookups and the
// online-user snapshot sent on login.
type Directory struct {
	mu    sync.RWMutex
	users map[string]UserInfo
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[string]UserInfo)}
}

// Add registers a user, overwriting any existing entry for the same id.
// It reports whether an entry was replaced.
func (d *Directory) Add(info UserInfo) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, replaced := d.users[info.UserID]
	d.users[info.UserID] = info
	return replaced
}

// Remove deregisters a user. Removing an id that is not present is a no-op;
// the returned flag lets the caller fire exactly one offline notification.
func (d *Directory) Remove(userID string) (UserInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.users[userID]
	if ok {
		delete(d.users, userID)
	}
	return info, ok
}

func (d *Directory) Get(userID string) (UserInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.users[userID]
	return info, ok
}

// Snapshot returns all registered users ordered by username for stable display.
func (d *Directory) Snapshot() []UserInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]UserInfo, 0, len(d.users))
	for _, info := range d.users {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Username < out[j].Username
	})
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
