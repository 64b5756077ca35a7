package protocol

import (
	"strings"

	"gavel-auction/internal/auction"
	"gavel-auction/internal/presence"
)

// Login is the first message a client must send on a server connection. It
// advertises the port the client accepts peer connections on; AdvertisedIP
// overrides the address the server observes on the socket, for clients that
// know their reachable address better than the server does.
type Login struct {
	Username     string `json:"username"`
	PeerPort     int    `json:"peer_port"`
	AdvertisedIP string `json:"advertised_ip,omitempty"`
}

func (m Login) Validate() error {
	if strings.TrimSpace(m.Username) == "" {
		return ErrUsernameRequired
	}
	if m.PeerPort <= 0 {
		return ErrInvalidPeerPort
	}
	return nil
}

// LoginResponse reports login success together with the initial auction and
// presence snapshots the client mirrors locally.
type LoginResponse struct {
	Success  bool                `json:"success"`
	Text     string              `json:"text"`
	Auctions []auction.Item      `json:"auctions,omitempty"`
	Users    []presence.UserInfo `json:"users,omitempty"`
}

// Logout announces that the sender is disconnecting. No payload fields.
type Logout struct{}

// AuctionListRequest asks the server for fresh auction snapshots.
type AuctionListRequest struct{}

// AuctionListResponse carries both the live and the ended auctions.
type AuctionListResponse struct {
	Active     []auction.Item `json:"active"`
	Historical []auction.Item `json:"historical"`
}

// CreateAuction asks the server to open a new auction on the sender's behalf.
type CreateAuction struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	StartBid        float64 `json:"start_bid"`
	DurationSeconds int     `json:"duration_seconds"`
}

// AuctionUpdate notifies clients of a change to one auction: a new bid, a
// creation, an ended auction or a rejection notice addressed to one sender.
type AuctionUpdate struct {
	Item        auction.Item `json:"item"`
	Description string       `json:"description"`
}

// PlaceBid registers a bid on an auction.
type PlaceBid struct {
	AuctionID  string  `json:"auction_id"`
	Amount     float64 `json:"amount"`
	BidderName string  `json:"bidder_name"`
}

func (m PlaceBid) Validate() error {
	if m.AuctionID == "" {
		return ErrAuctionIDRequired
	}
	if m.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// KeepAlive proves the sender's connection is still live. No payload fields.
type KeepAlive struct{}

// UserStatusUpdate announces a user going online or offline.
type UserStatusUpdate struct {
	User   presence.UserInfo `json:"user"`
	Online bool              `json:"online"`
}

// PeerInfoRequest asks the server for another client's peer address.
type PeerInfoRequest struct {
	TargetID string `json:"target_id"`
}

func (m PeerInfoRequest) Validate() error {
	if m.TargetID == "" {
		return ErrTargetIDRequired
	}
	return nil
}

// PeerInfoResponse answers a PeerInfoRequest. An empty Address means the
// target is offline or unknown.
type PeerInfoResponse struct {
	TargetID string `json:"target_id"`
	Address  string `json:"address,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// DirectMessage travels on direct peer links only. The sender id lives in
// the envelope; ReceiverID names the intended recipient so a mis-routed
// message can be detected.
type DirectMessage struct {
	ReceiverID       string `json:"receiver_id"`
	Content          string `json:"content"`
	RelatedAuctionID string `json:"related_auction_id,omitempty"`
}

func (m DirectMessage) Validate() error {
	if m.ReceiverID == "" {
		return ErrReceiverRequired
	}
	return nil
}
