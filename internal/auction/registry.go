package auction

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gavel-auction/internal/ports/outbound"
)

// entry pairs an item with its own lock. Bid acceptance is a per-item
// critical section, so bids on unrelated auctions never serialize against
// each other.
type entry struct {
	mu   sync.Mutex
	item Item
}

func (e *entry) snapshot() Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item
}

// Registry owns all auctions and their bidding state machine. Items live in
// the active set until the end sweep moves them to the historical set; they
// are never deleted after that.
type Registry struct {
	mu          sync.RWMutex
	active      map[string]*entry
	historical  map[string]*entry
	broadcaster outbound.Broadcaster
	logger      zerolog.Logger
}

type RegistryParams struct {
	Broadcaster outbound.Broadcaster
	Logger      zerolog.Logger
}

// NewRegistry creates a new auction registry
func NewRegistry(params RegistryParams) *Registry {
	return &Registry{
		active:      make(map[string]*entry),
		historical:  make(map[string]*entry),
		broadcaster: params.Broadcaster,
		logger:      params.Logger.With().Str("component", "auction_registry").Logger(),
	}
}

// CreateRequest carries the fields needed to open a new auction.
type CreateRequest struct {
	Name            string
	Description     string
	StartBid        float64
	DurationSeconds int
	SellerID        string
	SellerName      string
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(r.Description) == "" {
		return ErrDescriptionRequired
	}
	if r.StartBid <= 0 {
		return ErrInvalidStartBid
	}
	if r.DurationSeconds <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// Create validates the request, registers a new active auction and publishes
// its creation event.
func (r *Registry) Create(req CreateRequest) (Item, error) {
	if err := req.validate(); err != nil {
		r.logger.Warn().Err(err).Str("name", req.Name).Msg("Rejected auction creation")
		return Item{}, err
	}

	item := Item{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		CurrentBid:  req.StartBid,
		StartBid:    req.StartBid,
		EndTime:     time.Now().Add(time.Duration(req.DurationSeconds) * time.Second),
		SellerID:    req.SellerID,
		SellerName:  req.SellerName,
		Status:      StatusActive,
	}

	r.mu.Lock()
	r.active[item.ID] = &entry{item: item}
	r.mu.Unlock()

	r.logger.Info().
		Str("auction_id", item.ID).
		Str("name", item.Name).
		Float64("start_bid", item.StartBid).
		Time("end_time", item.EndTime).
		Msg("Auction created")

	r.publish(outbound.Event{
		Type:        outbound.EventTypeAuctionCreated,
		Description: fmt.Sprintf("New auction: %s (starting at %.2f)", item.Name, item.StartBid),
		Item:        item,
	})
	return item, nil
}

// PlaceBid attempts to record a bid. The check-and-set runs under the item's
// own lock so concurrent bidders on the same auction are serialized and no
// accepted bid is ever applied against a stale current bid. An expired item
// is lazily transitioned to ended here; the sweep still moves it to the
// historical set and emits the single ended notification.
func (r *Registry) PlaceBid(auctionID, bidderID, bidderName string, amount float64) (Item, error) {
	r.mu.RLock()
	ent, ok := r.active[auctionID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn().Str("auction_id", auctionID).Msg("Bid on unknown auction")
		return Item{}, ErrAuctionNotFound
	}

	ent.mu.Lock()
	if ent.item.Status != StatusActive {
		item := ent.item
		ent.mu.Unlock()
		return item, ErrAuctionNotActive
	}
	if ent.item.Expired(time.Now()) {
		ent.item.Status = StatusEnded
		item := ent.item
		ent.mu.Unlock()
		r.logger.Info().Str("auction_id", auctionID).Msg("Auction expired, bid refused")
		return item, ErrAuctionNotActive
	}
	if amount <= ent.item.CurrentBid {
		item := ent.item
		ent.mu.Unlock()
		r.logger.Info().
			Str("auction_id", auctionID).
			Float64("amount", amount).
			Float64("current_bid", item.CurrentBid).
			Msg("Bid too low")
		return item, ErrBidTooLow
	}
	ent.item.CurrentBid = amount
	ent.item.HighestBidderID = bidderID
	ent.item.HighestBidderName = bidderName
	item := ent.item
	ent.mu.Unlock()

	r.logger.Info().
		Str("auction_id", auctionID).
		Str("bidder_id", bidderID).
		Float64("amount", amount).
		Msg("Bid accepted")

	r.publish(outbound.Event{
		Type:        outbound.EventTypeBidAccepted,
		Description: fmt.Sprintf("New bid on %s: %.2f by %s", item.Name, amount, bidderName),
		Item:        item,
	})
	return item, nil
}

// Get returns a snapshot of an auction from either the active or the
// historical set.
func (r *Registry) Get(auctionID string) (Item, bool) {
	r.mu.RLock()
	ent, ok := r.active[auctionID]
	if !ok {
		ent, ok = r.historical[auctionID]
	}
	r.mu.RUnlock()
	if !ok {
		return Item{}, false
	}
	return ent.snapshot(), true
}

// EndSweep moves every auction whose end time has passed to the historical
// set and publishes exactly one ended event per auction. An auction already
// moved by a previous sweep is untouched, so running the sweep twice in
// succession is idempotent.
func (r *Registry) EndSweep(now time.Time) []Item {
	r.mu.Lock()
	var ended []Item
	for id, ent := range r.active {
		ent.mu.Lock()
		if !ent.item.Expired(now) {
			ent.mu.Unlock()
			continue
		}
		ent.item.Status = StatusEnded
		ended = append(ended, ent.item)
		ent.mu.Unlock()
		r.historical[id] = ent
		delete(r.active, id)
	}
	r.mu.Unlock()

	for _, item := range ended {
		var outcome string
		if item.HasBids() {
			outcome = fmt.Sprintf("Winner: %s with a bid of %.2f", item.HighestBidderName, item.CurrentBid)
		} else {
			outcome = fmt.Sprintf("Item was not sold (no bids). Start bid: %.2f", item.StartBid)
		}
		r.logger.Info().
			Str("auction_id", item.ID).
			Str("name", item.Name).
			Bool("sold", item.HasBids()).
			Msg("Auction ended")
		r.publish(outbound.Event{
			Type:        outbound.EventTypeAuctionEnded,
			Description: fmt.Sprintf("Auction ended: %s. %s", item.Name, outcome),
			Item:        item,
		})
	}
	return ended
}

// ListActive returns a snapshot of the active auctions ordered by ascending
// end time.
func (r *Registry) ListActive() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSnapshots(r.active)
}

// ListHistorical returns a snapshot of the ended auctions ordered by
// ascending end time.
func (r *Registry) ListHistorical() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSnapshots(r.historical)
}

func sortedSnapshots(entries map[string]*entry) []Item {
	out := make([]Item, 0, len(entries))
	for _, ent := range entries {
		out = append(out, ent.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndTime.Before(out[j].EndTime)
	})
	return out
}

func (r *Registry) publish(event outbound.Event) {
	if r.broadcaster == nil {
		return
	}
	r.broadcaster.Publish(event)
}
