package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gavel-auction/internal/auction"
	"gavel-auction/internal/config"
	"gavel-auction/internal/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	return &config.Config{
		Server: config.ServerConfig{Port: port, Host: "127.0.0.1"},
		Peer:   config.PeerConfig{BasePort: 20000, PortAttempts: 100},
		Timing: config.TimingConfig{
			KeepAliveInterval:       10 * time.Second,
			AuctionSweepInterval:    time.Second,
			InactivityTimeout:       time.Minute,
			InactivityCheckInterval: 30 * time.Second,
		},
		WebSocket: config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// startServer brings up a fully wired server on a free port and returns its
// address plus the coordinator for direct assertions.
func startServer(t *testing.T) (string, *Coordinator) {
	t.Helper()
	cfg := testConfig(t)

	coordinator := NewCoordinator(CoordinatorParams{Config: cfg, Logger: zerolog.Nop()})
	registry := auction.NewRegistry(auction.RegistryParams{Broadcaster: coordinator, Logger: zerolog.Nop()})
	coordinator.SetRegistry(registry)

	srv := NewServer(ServerParams{Config: cfg, Coordinator: coordinator, Logger: zerolog.Nop()})
	go srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond, "server did not come up")

	return addr, coordinator
}

// testClient is a bare protocol speaker, deliberately independent of the
// client package so server behavior is tested against the wire format alone.
type testClient struct {
	t  *testing.T
	id string
	ws *websocket.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	c := &testClient{t: t, id: uuid.New().String(), ws: ws}
	t.Cleanup(func() { c.ws.Close() })
	return c
}

func (c *testClient) send(msgType protocol.Type, payload any) {
	c.t.Helper()
	env, err := protocol.NewEnvelope(msgType, c.id, payload)
	require.NoError(c.t, err)
	data, err := json.Marshal(env)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *testClient) read() (*protocol.Envelope, error) {
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// expect reads until a message of the wanted type arrives, skipping other
// pushed messages on the way.
func (c *testClient) expect(msgType protocol.Type) *protocol.Envelope {
	c.t.Helper()
	for {
		env, err := c.read()
		require.NoError(c.t, err, "waiting for %s", msgType)
		if env.Type == msgType {
			return env
		}
	}
}

func (c *testClient) login(username string) protocol.LoginResponse {
	c.t.Helper()
	c.send(protocol.TypeLogin, protocol.Login{Username: username, PeerPort: 20000})
	env := c.expect(protocol.TypeLoginResponse)
	resp, err := protocol.PayloadAs[protocol.LoginResponse](env)
	require.NoError(c.t, err)
	return resp
}

func TestServer_LoginHandshake(t *testing.T) {
	addr, coordinator := startServer(t)

	client := dialClient(t, addr)
	resp := client.login("alice")

	require.True(t, resp.Success)
	assert.Equal(t, "Login successful", resp.Text)
	require.Len(t, resp.Users, 1)
	assert.Equal(t, client.id, resp.Users[0].UserID)
	assert.Equal(t, "alice", resp.Users[0].Username)
	assert.Equal(t, 20000, resp.Users[0].PeerPort)
	assert.Empty(t, resp.Auctions)

	info, ok := coordinator.Directory().Get(client.id)
	require.True(t, ok)
	assert.Equal(t, "alice", info.Username)
}

func TestServer_FirstMessageMustBeLogin(t *testing.T) {
	addr, _ := startServer(t)

	client := dialClient(t, addr)
	client.send(protocol.TypeKeepAlive, protocol.KeepAlive{})

	env := client.expect(protocol.TypeLoginResponse)
	resp, err := protocol.PayloadAs[protocol.LoginResponse](env)
	require.NoError(t, err)
	assert.False(t, resp.Success)

	_, err = client.read()
	assert.Error(t, err, "server must close the connection")
}

func TestServer_RejectsInvalidLogin(t *testing.T) {
	addr, coordinator := startServer(t)

	client := dialClient(t, addr)
	resp := client.login("   ")

	assert.False(t, resp.Success)
	assert.Equal(t, 0, coordinator.Directory().Len())
}

func TestServer_PresenceBroadcasts(t *testing.T) {
	addr, _ := startServer(t)

	alice := dialClient(t, addr)
	alice.login("alice")

	bob := dialClient(t, addr)
	bob.login("bob")

	// Alice hears about bob; bob gets no presence event about himself.
	env := alice.expect(protocol.TypeUserStatusUpdate)
	update, err := protocol.PayloadAs[protocol.UserStatusUpdate](env)
	require.NoError(t, err)
	assert.True(t, update.Online)
	assert.Equal(t, bob.id, update.User.UserID)

	bob.send(protocol.TypeLogout, protocol.Logout{})

	env = alice.expect(protocol.TypeUserStatusUpdate)
	update, err = protocol.PayloadAs[protocol.UserStatusUpdate](env)
	require.NoError(t, err)
	assert.False(t, update.Online)
	assert.Equal(t, bob.id, update.User.UserID)
}

func TestServer_AuctionFlow(t *testing.T) {
	addr, _ := startServer(t)

	alice := dialClient(t, addr)
	alice.login("alice")
	bob := dialClient(t, addr)
	bob.login("bob")
	alice.expect(protocol.TypeUserStatusUpdate)

	alice.send(protocol.TypeCreateAuction, protocol.CreateAuction{
		Name:            "Vintage clock",
		Description:     "A clock",
		StartBid:        50,
		DurationSeconds: 300,
	})

	// Creation is pushed to every session.
	var auctionID string
	for _, c := range []*testClient{alice, bob} {
		env := c.expect(protocol.TypeAuctionUpdate)
		update, err := protocol.PayloadAs[protocol.AuctionUpdate](env)
		require.NoError(t, err)
		assert.Equal(t, "Vintage clock", update.Item.Name)
		assert.Equal(t, alice.id, update.Item.SellerID)
		auctionID = update.Item.ID
	}

	bob.send(protocol.TypePlaceBid, protocol.PlaceBid{AuctionID: auctionID, Amount: 75, BidderName: "bob"})

	for _, c := range []*testClient{alice, bob} {
		env := c.expect(protocol.TypeAuctionUpdate)
		update, err := protocol.PayloadAs[protocol.AuctionUpdate](env)
		require.NoError(t, err)
		assert.Equal(t, 75.0, update.Item.CurrentBid)
		assert.Equal(t, bob.id, update.Item.HighestBidderID)
	}

	// A losing bid is answered to the bidder only.
	bob.send(protocol.TypePlaceBid, protocol.PlaceBid{AuctionID: auctionID, Amount: 60, BidderName: "bob"})
	env := bob.expect(protocol.TypeAuctionUpdate)
	update, err := protocol.PayloadAs[protocol.AuctionUpdate](env)
	require.NoError(t, err)
	assert.Contains(t, update.Description, "Bid rejected")
	assert.Equal(t, 75.0, update.Item.CurrentBid)

	_, err = alice.read()
	assert.Error(t, err, "rejection must not be broadcast")
}

func TestServer_AuctionListRequest(t *testing.T) {
	addr, coordinator := startServer(t)

	client := dialClient(t, addr)
	client.login("alice")

	_, err := coordinator.registry.Create(auction.CreateRequest{
		Name:            "Old item",
		Description:     "Already over",
		StartBid:        10,
		DurationSeconds: 1,
		SellerID:        "seller",
		SellerName:      "seller",
	})
	require.NoError(t, err)
	client.expect(protocol.TypeAuctionUpdate)

	coordinator.registry.EndSweep(time.Now().Add(2 * time.Second))
	client.expect(protocol.TypeAuctionUpdate)

	client.send(protocol.TypeAuctionListRequest, protocol.AuctionListRequest{})
	env := client.expect(protocol.TypeAuctionListResponse)
	resp, err := protocol.PayloadAs[protocol.AuctionListResponse](env)
	require.NoError(t, err)
	assert.Empty(t, resp.Active)
	require.Len(t, resp.Historical, 1)
	assert.Equal(t, auction.StatusEnded, resp.Historical[0].Status)
}

func TestServer_PeerInfoRequest(t *testing.T) {
	addr, _ := startServer(t)

	alice := dialClient(t, addr)
	alice.login("alice")
	bob := dialClient(t, addr)
	bob.login("bob")
	alice.expect(protocol.TypeUserStatusUpdate)

	alice.send(protocol.TypePeerInfoRequest, protocol.PeerInfoRequest{TargetID: bob.id})
	env := alice.expect(protocol.TypePeerInfoResponse)
	resp, err := protocol.PayloadAs[protocol.PeerInfoResponse](env)
	require.NoError(t, err)
	assert.Equal(t, bob.id, resp.TargetID)
	assert.NotEmpty(t, resp.Address)
	assert.Equal(t, 20000, resp.Port)

	alice.send(protocol.TypePeerInfoRequest, protocol.PeerInfoRequest{TargetID: "ghost"})
	env = alice.expect(protocol.TypePeerInfoResponse)
	resp, err = protocol.PayloadAs[protocol.PeerInfoResponse](env)
	require.NoError(t, err)
	assert.Equal(t, "ghost", resp.TargetID)
	assert.Empty(t, resp.Address)
	assert.Zero(t, resp.Port)
}

func TestServer_WrongDirectionTypesDiscarded(t *testing.T) {
	addr, _ := startServer(t)

	client := dialClient(t, addr)
	client.login("alice")

	// A server-pushed type, a peer-only type and an unknown type from a
	// client are all discarded; the connection stays usable throughout.
	client.send(protocol.TypeAuctionUpdate, protocol.AuctionUpdate{Description: "forged"})
	client.send(protocol.TypeDirectMessage, protocol.DirectMessage{ReceiverID: "u2", Content: "misrouted"})
	client.send(protocol.Type("teleport"), nil)

	client.send(protocol.TypeAuctionListRequest, protocol.AuctionListRequest{})
	client.expect(protocol.TypeAuctionListResponse)
}

func TestCoordinator_SweepInactive(t *testing.T) {
	addr, coordinator := startServer(t)

	client := dialClient(t, addr)
	client.login("alice")

	// Backdate the client's activity beyond the timeout and sweep.
	coordinator.activityMu.Lock()
	coordinator.lastActivity[client.id] = time.Now().Add(-2 * time.Minute)
	coordinator.activityMu.Unlock()

	coordinator.SweepInactive()

	require.Eventually(t, func() bool {
		return coordinator.Directory().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := client.read()
	assert.Error(t, err, "inactive connection must be closed")
}

func TestCoordinator_KeepAliveRefreshesActivity(t *testing.T) {
	addr, coordinator := startServer(t)

	client := dialClient(t, addr)
	client.login("alice")

	coordinator.activityMu.Lock()
	coordinator.lastActivity[client.id] = time.Now().Add(-2 * time.Minute)
	coordinator.activityMu.Unlock()

	client.send(protocol.TypeKeepAlive, protocol.KeepAlive{})

	require.Eventually(t, func() bool {
		coordinator.activityMu.Lock()
		defer coordinator.activityMu.Unlock()
		return time.Since(coordinator.lastActivity[client.id]) < time.Minute
	}, 2*time.Second, 10*time.Millisecond)

	coordinator.SweepInactive()
	assert.Equal(t, 1, coordinator.Directory().Len())
}

func TestCoordinator_ReloginKeepsNewSession(t *testing.T) {
	addr, coordinator := startServer(t)

	first := dialClient(t, addr)
	first.login("alice")

	// Same user id logs in over a second connection.
	second := dialClient(t, addr)
	second.id = first.id
	resp := second.login("alice")
	require.True(t, resp.Success)

	// The old connection dying must not evict the new session.
	first.ws.Close()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, coordinator.Directory().Len())
	second.send(protocol.TypeAuctionListRequest, protocol.AuctionListRequest{})
	second.expect(protocol.TypeAuctionListResponse)
}
