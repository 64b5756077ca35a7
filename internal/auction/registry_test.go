package auction

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gavel-auction/internal/ports/outbound"
)

// recordingBroadcaster captures published events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []outbound.Event
}

func (b *recordingBroadcaster) Publish(event outbound.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) byType(t outbound.EventType) []outbound.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []outbound.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestRegistry() (*Registry, *recordingBroadcaster) {
	broadcaster := &recordingBroadcaster{}
	registry := NewRegistry(RegistryParams{
		Broadcaster: broadcaster,
		Logger:      zerolog.Nop(),
	})
	return registry, broadcaster
}

func validCreateRequest() CreateRequest {
	return CreateRequest{
		Name:            "Vintage clock",
		Description:     "A clock",
		StartBid:        50,
		DurationSeconds: 60,
		SellerID:        "seller-1",
		SellerName:      "alice",
	}
}

func TestRegistry_Create(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*CreateRequest)
		expectedErr error
	}{
		{name: "valid", mutate: func(r *CreateRequest) {}},
		{name: "empty_name", mutate: func(r *CreateRequest) { r.Name = "  " }, expectedErr: ErrNameRequired},
		{name: "empty_description", mutate: func(r *CreateRequest) { r.Description = "" }, expectedErr: ErrDescriptionRequired},
		{name: "zero_start_bid", mutate: func(r *CreateRequest) { r.StartBid = 0 }, expectedErr: ErrInvalidStartBid},
		{name: "negative_start_bid", mutate: func(r *CreateRequest) { r.StartBid = -1 }, expectedErr: ErrInvalidStartBid},
		{name: "zero_duration", mutate: func(r *CreateRequest) { r.DurationSeconds = 0 }, expectedErr: ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, broadcaster := newTestRegistry()
			req := validCreateRequest()
			tt.mutate(&req)

			item, err := registry.Create(req)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, broadcaster.byType(outbound.EventTypeAuctionCreated))
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, item.ID)
			assert.Equal(t, StatusActive, item.Status)
			assert.Equal(t, req.StartBid, item.CurrentBid)
			assert.False(t, item.HasBids())
			assert.Len(t, broadcaster.byType(outbound.EventTypeAuctionCreated), 1)
		})
	}
}

func TestRegistry_PlaceBid(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	item, err := registry.Create(validCreateRequest())
	require.NoError(t, err)

	t.Run("unknown_auction", func(t *testing.T) {
		_, err := registry.PlaceBid("nope", "user-1", "bob", 100)
		require.ErrorIs(t, err, ErrAuctionNotFound)
	})

	t.Run("bid_at_current_is_rejected", func(t *testing.T) {
		_, err := registry.PlaceBid(item.ID, "user-1", "bob", item.StartBid)
		require.ErrorIs(t, err, ErrBidTooLow)
	})

	t.Run("higher_bid_is_accepted", func(t *testing.T) {
		got, err := registry.PlaceBid(item.ID, "user-1", "bob", 75)
		require.NoError(t, err)
		assert.Equal(t, 75.0, got.CurrentBid)
		assert.Equal(t, "user-1", got.HighestBidderID)
		assert.Equal(t, "bob", got.HighestBidderName)
		assert.Len(t, broadcaster.byType(outbound.EventTypeBidAccepted), 1)
	})

	t.Run("lower_bid_after_accept_is_rejected", func(t *testing.T) {
		snapshot, err := registry.PlaceBid(item.ID, "user-2", "carol", 60)
		require.ErrorIs(t, err, ErrBidTooLow)
		// The rejection carries the state the bid lost against.
		assert.Equal(t, 75.0, snapshot.CurrentBid)
		assert.Len(t, broadcaster.byType(outbound.EventTypeBidAccepted), 1)
	})
}

func TestRegistry_PlaceBid_ExpiredAuction(t *testing.T) {
	registry, broadcaster := newTestRegistry()
	req := validCreateRequest()
	req.DurationSeconds = 1
	item, err := registry.Create(req)
	require.NoError(t, err)

	// Force expiry without waiting: rewrite the entry under its lock.
	registry.mu.RLock()
	ent := registry.active[item.ID]
	registry.mu.RUnlock()
	ent.mu.Lock()
	ent.item.EndTime = time.Now().Add(-time.Second)
	ent.mu.Unlock()

	_, err = registry.PlaceBid(item.ID, "user-1", "bob", 100)
	require.ErrorIs(t, err, ErrAuctionNotActive)

	// The lazy transition marks the item ended but does not publish; the
	// sweep owns the single ended notification.
	got, ok := registry.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, StatusEnded, got.Status)
	assert.Empty(t, broadcaster.byType(outbound.EventTypeAuctionEnded))

	ended := registry.EndSweep(time.Now())
	require.Len(t, ended, 1)
	assert.Len(t, broadcaster.byType(outbound.EventTypeAuctionEnded), 1)
}

// Concurrent bidders on one auction: whatever interleaving happens, the final
// winner must be the highest accepted amount and every rejected bidder must
// have seen a current bid at or above their offer.
func TestRegistry_PlaceBid_Concurrent(t *testing.T) {
	registry, _ := newTestRegistry()
	item, err := registry.Create(validCreateRequest())
	require.NoError(t, err)

	const bidders = 50
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := float64(100 + i)
			_, err := registry.PlaceBid(item.ID, fmt.Sprintf("user-%d", i), fmt.Sprintf("bidder%d", i), amount)
			if err != nil {
				assert.ErrorIs(t, err, ErrBidTooLow)
			}
		}(i)
	}
	wg.Wait()

	got, ok := registry.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, float64(100+bidders-1), got.CurrentBid)
	assert.Equal(t, fmt.Sprintf("user-%d", bidders-1), got.HighestBidderID)
}

func TestRegistry_EndSweep(t *testing.T) {
	registry, broadcaster := newTestRegistry()

	expired, err := registry.Create(validCreateRequest())
	require.NoError(t, err)
	live, err := registry.Create(validCreateRequest())
	require.NoError(t, err)

	_, err = registry.PlaceBid(expired.ID, "user-1", "bob", 90)
	require.NoError(t, err)

	ended := registry.EndSweep(expired.EndTime.Add(-time.Second))
	assert.Empty(t, ended, "nothing expired yet")

	ended = registry.EndSweep(expired.EndTime)
	require.Len(t, ended, 2, "both auctions share the same duration")

	for _, item := range ended {
		assert.Equal(t, StatusEnded, item.Status)
	}
	assert.Empty(t, registry.ListActive())
	assert.Len(t, registry.ListHistorical(), 2)

	events := broadcaster.byType(outbound.EventTypeAuctionEnded)
	require.Len(t, events, 2)
	descriptions := map[string]string{}
	for _, e := range events {
		item := e.Item.(Item)
		descriptions[item.ID] = e.Description
	}
	assert.Contains(t, descriptions[expired.ID], "Winner: bob with a bid of 90.00")
	assert.Contains(t, descriptions[live.ID], "Item was not sold (no bids)")

	// A second sweep over the same instant must do nothing.
	ended = registry.EndSweep(expired.EndTime)
	assert.Empty(t, ended)
	assert.Len(t, broadcaster.byType(outbound.EventTypeAuctionEnded), 2)
}

func TestRegistry_Get_FindsHistorical(t *testing.T) {
	registry, _ := newTestRegistry()
	item, err := registry.Create(validCreateRequest())
	require.NoError(t, err)

	registry.EndSweep(item.EndTime)

	got, ok := registry.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, StatusEnded, got.Status)
}

func TestRegistry_ListActive_SortedByEndTime(t *testing.T) {
	registry, _ := newTestRegistry()

	for _, seconds := range []int{300, 100, 200} {
		req := validCreateRequest()
		req.DurationSeconds = seconds
		_, err := registry.Create(req)
		require.NoError(t, err)
	}

	items := registry.ListActive()
	require.Len(t, items, 3)
	assert.True(t, items[0].EndTime.Before(items[1].EndTime))
	assert.True(t, items[1].EndTime.Before(items[2].EndTime))
}
