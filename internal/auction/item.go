package auction

import (
	"time"
)

// Status represents the current status of an auction
type Status string

const (
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Item represents one auctioned item and its bidding state. The highest
// bidder fields stay empty until a bid above the asking price is accepted.
type Item struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	CurrentBid        float64   `json:"current_bid"`
	HighestBidderID   string    `json:"highest_bidder_id,omitempty"`
	HighestBidderName string    `json:"highest_bidder_name,omitempty"`
	StartBid          float64   `json:"start_bid"`
	EndTime           time.Time `json:"end_time"`
	SellerID          string    `json:"seller_id"`
	SellerName        string    `json:"seller_name"`
	Status            Status    `json:"status"`
}

// IsActive returns true if the auction is still accepting bids.
func (i *Item) IsActive() bool {
	return i.Status == StatusActive
}

// Expired returns true if the auction's end time has been reached.
func (i *Item) Expired(now time.Time) bool {
	return !now.Before(i.EndTime)
}

// HasBids returns true if at least one bid above the asking price was accepted.
func (i *Item) HasBids() bool {
	return i.HighestBidderID != ""
}

// RemainingTime returns the time left until the auction ends, never negative.
func (i *Item) RemainingTime(now time.Time) time.Duration {
	if i.Expired(now) {
		return 0
	}
	return i.EndTime.Sub(now)
}
