package client

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gavel-auction/internal/auction"
	"gavel-auction/internal/config"
	"gavel-auction/internal/presence"
	"gavel-auction/internal/protocol"
	"gavel-auction/internal/scheduler"
	"gavel-auction/internal/transport"
)

// Session is one client's view of the auction system: the server connection,
// the peer plane and locally mirrored auction and presence snapshots kept in
// sync by server pushes. All mutation happens on the session's read
// goroutines; accessors return copies.
type Session struct {
	userID string
	cfg    *config.Config
	logger zerolog.Logger

	notifier Notifier
	peers    *peerManager

	conn *transport.Conn

	mu         sync.RWMutex
	sched      *scheduler.Runner
	username   string
	loggedIn   bool
	closed     bool
	active     []auction.Item
	historical []auction.Item
	users      map[string]presence.UserInfo

	closeOnce sync.Once
}

type SessionParams struct {
	Config   *config.Config
	Notifier Notifier
	Logger   zerolog.Logger
}

// NewSession creates a client session with a fresh identity. The session is
// inert until Connect.
func NewSession(params SessionParams) *Session {
	id := uuid.New().String()
	s := &Session{
		userID:   id,
		cfg:      params.Config,
		logger:   params.Logger.With().Str("component", "client_session").Str("user_id", id).Logger(),
		notifier: params.Notifier,
		users:    make(map[string]presence.UserInfo),
	}
	s.peers = newPeerManager(s, params.Config, params.Logger)
	return s
}

// UserID returns this client's identity, generated at session creation.
func (s *Session) UserID() string {
	return s.userID
}

// Connect starts the peer listener and dials the rendezvous server. The peer
// listener comes up first: its port travels inside the login message, so
// without it the client cannot participate.
func (s *Session) Connect(serverAddr string) error {
	if err := s.peers.start(); err != nil {
		return err
	}

	url := fmt.Sprintf("ws://%s/ws", serverAddr)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		s.peers.stop()
		return fmt.Errorf("failed to connect to server at %s: %w", serverAddr, err)
	}

	s.conn = transport.NewConn(ws, s.logger)
	go s.readLoop()

	s.logger.Info().Str("server", serverAddr).Msg("Connected to server")
	return nil
}

// Login sends the login handshake. The session becomes usable only once the
// server's login response arrives on the read loop.
func (s *Session) Login(username string) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if strings.TrimSpace(username) == "" {
		return protocol.ErrUsernameRequired
	}

	s.mu.Lock()
	if s.loggedIn {
		s.mu.Unlock()
		return ErrAlreadyLogged
	}
	s.username = username
	s.mu.Unlock()

	login := protocol.Login{
		Username:     username,
		PeerPort:     s.peers.port,
		AdvertisedIP: localIP(),
	}
	return s.sendToServer(protocol.TypeLogin, login)
}

// RequestAuctionList asks the server for fresh auction snapshots.
func (s *Session) RequestAuctionList() error {
	if !s.isLoggedIn() {
		return ErrNotLoggedIn
	}
	return s.sendToServer(protocol.TypeAuctionListRequest, protocol.AuctionListRequest{})
}

// PlaceBid submits a bid after checking it against the local mirror, so
// obviously losing bids never hit the wire. The server still has the final
// word: the mirror may be stale.
func (s *Session) PlaceBid(auctionID string, amount float64) error {
	if !s.isLoggedIn() {
		return ErrNotLoggedIn
	}

	bid := protocol.PlaceBid{
		AuctionID:  auctionID,
		Amount:     amount,
		BidderName: s.Username(),
	}
	if err := bid.Validate(); err != nil {
		return err
	}

	if item, ok := s.findAuction(auctionID); ok {
		if !item.IsActive() || item.Expired(time.Now()) {
			return auction.ErrAuctionNotActive
		}
		if amount <= item.CurrentBid {
			return fmt.Errorf("%w: current bid is %.2f", auction.ErrBidTooLow, item.CurrentBid)
		}
	}

	return s.sendToServer(protocol.TypePlaceBid, bid)
}

// CreateAuction asks the server to open a new auction with this client as
// seller.
func (s *Session) CreateAuction(name, description string, startBid float64, durationSeconds int) error {
	if !s.isLoggedIn() {
		return ErrNotLoggedIn
	}

	if strings.TrimSpace(name) == "" {
		return auction.ErrNameRequired
	}
	if strings.TrimSpace(description) == "" {
		return auction.ErrDescriptionRequired
	}
	if startBid <= 0 {
		return auction.ErrInvalidStartBid
	}
	if durationSeconds <= 0 {
		return auction.ErrInvalidDuration
	}

	return s.sendToServer(protocol.TypeCreateAuction, protocol.CreateAuction{
		Name:            name,
		Description:     description,
		StartBid:        startBid,
		DurationSeconds: durationSeconds,
	})
}

// RequestPeerInfo asks the server where a peer can be reached. The answer
// arrives asynchronously as a peer info response.
func (s *Session) RequestPeerInfo(targetID string) error {
	if !s.isLoggedIn() {
		return ErrNotLoggedIn
	}
	if targetID == s.userID {
		return ErrSelfTarget
	}
	req := protocol.PeerInfoRequest{TargetID: targetID}
	if err := req.Validate(); err != nil {
		return err
	}
	return s.sendToServer(protocol.TypePeerInfoRequest, req)
}

// SendDirectMessage delivers a message to another client over their direct
// channel. Without an open channel the message is queued and the peer's
// address requested from the server; the queue drains once the channel comes
// up.
func (s *Session) SendDirectMessage(receiverID, content, relatedAuctionID string) error {
	if !s.isLoggedIn() {
		return ErrNotLoggedIn
	}
	if receiverID == s.userID {
		return ErrSelfMessage
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if _, ok := s.User(receiverID); !ok {
		return ErrUnknownUser
	}

	env, err := protocol.NewEnvelope(protocol.TypeDirectMessage, s.userID, protocol.DirectMessage{
		ReceiverID:       receiverID,
		Content:          content,
		RelatedAuctionID: relatedAuctionID,
	})
	if err != nil {
		return err
	}

	if s.peers.send(receiverID, env) {
		return nil
	}

	s.peers.enqueue(receiverID, env)
	if err := s.sendToServer(protocol.TypePeerInfoRequest, protocol.PeerInfoRequest{TargetID: receiverID}); err != nil {
		s.peers.dropPending(receiverID)
		return err
	}
	s.notifier.Info("Message queued, connecting to peer...")
	return nil
}

// Logout tells the server this client is leaving, then tears everything down.
func (s *Session) Logout() {
	if s.isLoggedIn() {
		if err := s.sendToServer(protocol.TypeLogout, protocol.Logout{}); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to send logout")
		}
	}
	s.Close()
}

// Close shuts down the session: the keep-alive loop, the server connection
// and the whole peer plane. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.loggedIn = false
		s.closed = true
		sched := s.sched
		s.mu.Unlock()
		if sched != nil {
			sched.Stop()
		}
		if s.conn != nil {
			s.conn.Close()
		}
		s.peers.stop()
		s.logger.Info().Msg("Session closed")
	})
}

// Username returns the name this session logged in with.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// ActiveAuctions returns a copy of the mirrored live auction list.
func (s *Session) ActiveAuctions() []auction.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auction.Item(nil), s.active...)
}

// HistoricalAuctions returns a copy of the mirrored ended auction list.
func (s *Session) HistoricalAuctions() []auction.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auction.Item(nil), s.historical...)
}

// Users returns the mirrored presence list, this client excluded, sorted the
// way the server sorts its directory.
func (s *Session) Users() []presence.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]presence.UserInfo, 0, len(s.users))
	for id, info := range s.users {
		if id == s.userID {
			continue
		}
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

// User looks up one mirrored presence entry by id.
func (s *Session) User(userID string) (presence.UserInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.users[userID]
	return info, ok
}

func (s *Session) isLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

func (s *Session) findAuction(auctionID string) (auction.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.active {
		if item.ID == auctionID {
			return item, true
		}
	}
	for _, item := range s.historical {
		if item.ID == auctionID {
			return item, true
		}
	}
	return auction.Item{}, false
}

func (s *Session) sendToServer(t protocol.Type, payload any) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	env, err := protocol.NewEnvelope(t, s.userID, payload)
	if err != nil {
		return err
	}
	return s.conn.Send(env)
}

// readLoop consumes the server connection until it dies.
func (s *Session) readLoop() {
	for {
		env, err := s.conn.ReadEnvelope()
		if err != nil {
			s.logger.Info().Err(err).Msg("Server connection lost")
			if s.isLoggedIn() {
				s.notifier.Error("Connection to server lost.")
			}
			s.Close()
			return
		}
		s.handleServerEnvelope(env)
	}
}

func (s *Session) handleServerEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeLoginResponse:
		resp, err := protocol.PayloadAs[protocol.LoginResponse](env)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Malformed login response")
			return
		}
		s.handleLoginResponse(resp)

	case protocol.TypeAuctionListResponse:
		resp, err := protocol.PayloadAs[protocol.AuctionListResponse](env)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Malformed auction list response")
			return
		}
		s.mu.Lock()
		s.active = resp.Active
		s.historical = resp.Historical
		s.mu.Unlock()
		s.notifier.StateChanged()

	case protocol.TypeAuctionUpdate:
		update, err := protocol.PayloadAs[protocol.AuctionUpdate](env)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Malformed auction update")
			return
		}
		s.applyAuctionUpdate(update)

	case protocol.TypeUserStatusUpdate:
		update, err := protocol.PayloadAs[protocol.UserStatusUpdate](env)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Malformed user status update")
			return
		}
		s.applyUserStatus(update)

	case protocol.TypePeerInfoResponse:
		resp, err := protocol.PayloadAs[protocol.PeerInfoResponse](env)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Malformed peer info response")
			return
		}
		s.handlePeerInfo(resp)

	default:
		s.logger.Warn().Str("type", string(env.Type)).Msg("Unexpected message from server, ignoring")
	}
}

func (s *Session) handleLoginResponse(resp protocol.LoginResponse) {
	if !resp.Success {
		s.notifier.Error(resp.Text)
		s.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.loggedIn = true
	s.active = resp.Auctions
	for _, info := range resp.Users {
		s.users[info.UserID] = info
	}
	s.mu.Unlock()

	s.startKeepAlive()
	s.notifier.Info(resp.Text)
	s.notifier.StateChanged()
	s.logger.Info().Str("username", s.Username()).Msg("Logged in")
}

// startKeepAlive begins the periodic liveness ping. It runs only after a
// successful login: the server counts any message as activity, so pinging an
// unauthenticated connection would just get it closed. A session closed in
// the meantime stops the runner instead of adopting it, so the loop can
// never outlive the session.
func (s *Session) startKeepAlive() {
	runner := scheduler.NewRunner(s.logger)
	interval := s.cfg.Timing.KeepAliveInterval
	runner.Every("keep_alive", interval, interval, func(ctx context.Context) {
		if err := s.sendToServer(protocol.TypeKeepAlive, protocol.KeepAlive{}); err != nil {
			s.logger.Debug().Err(err).Msg("Keep-alive send failed")
		}
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		runner.Stop()
		return
	}
	s.sched = runner
	s.mu.Unlock()
}

// applyAuctionUpdate merges one pushed item into the mirror. An item that is
// no longer active migrates from the active list to the historical one.
func (s *Session) applyAuctionUpdate(update protocol.AuctionUpdate) {
	item := update.Item

	// Rejection notices for unknown auctions carry no item snapshot; there
	// is nothing to merge, only text to show.
	if item.ID == "" {
		if update.Description != "" {
			s.notifier.Info(update.Description)
		}
		return
	}

	s.mu.Lock()
	s.active = removeItem(s.active, item.ID)
	s.historical = removeItem(s.historical, item.ID)
	if item.IsActive() {
		s.active = insertByEndTime(s.active, item)
	} else {
		s.historical = insertByEndTime(s.historical, item)
	}
	s.mu.Unlock()

	if update.Description != "" {
		s.notifier.Info(update.Description)
	}
	s.notifier.StateChanged()
}

func (s *Session) applyUserStatus(update protocol.UserStatusUpdate) {
	info := update.User

	s.mu.Lock()
	if update.Online {
		s.users[info.UserID] = info
	} else {
		delete(s.users, info.UserID)
	}
	s.mu.Unlock()

	if update.Online {
		s.notifier.Info(fmt.Sprintf("%s is online", info.Username))
	} else {
		// The peer is gone; its direct channel is dead weight now.
		s.peers.closePeer(info.UserID)
		s.notifier.Info(fmt.Sprintf("%s went offline", info.Username))
	}
	s.notifier.StateChanged()
}

// handlePeerInfo resolves an earlier rendezvous request. An empty address
// means the target is gone: whatever was queued for it is dropped, because
// there is no one left to deliver it to.
func (s *Session) handlePeerInfo(resp protocol.PeerInfoResponse) {
	if resp.Address == "" {
		if n := s.peers.dropPending(resp.TargetID); n > 0 {
			s.notifier.Error(fmt.Sprintf("Peer is unavailable, %d queued message(s) discarded.", n))
		} else {
			s.notifier.Error("Peer is unavailable.")
		}
		return
	}

	if err := s.peers.dial(resp.TargetID, resp.Address, resp.Port); err != nil {
		s.logger.Warn().Err(err).Str("peer_id", resp.TargetID).Msg("Failed to connect to peer")
		s.peers.dropPending(resp.TargetID)
		s.notifier.Error("Could not connect to peer.")
	}
}

// handlePeerEnvelope processes a message arriving on a direct channel.
func (s *Session) handlePeerEnvelope(env *protocol.Envelope) {
	if env.Type != protocol.TypeDirectMessage {
		s.logger.Warn().Str("type", string(env.Type)).Msg("Unexpected message on peer channel, ignoring")
		return
	}

	dm, err := protocol.PayloadAs[protocol.DirectMessage](env)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Malformed direct message")
		return
	}
	if dm.ReceiverID != s.userID {
		s.logger.Warn().
			Str("receiver_id", dm.ReceiverID).
			Str("sender_id", env.SenderID).
			Msg("Direct message addressed to someone else, discarding")
		return
	}

	sender := env.SenderID
	if info, ok := s.User(env.SenderID); ok {
		sender = info.Username
	}
	if dm.RelatedAuctionID != "" {
		s.notifier.Info(fmt.Sprintf("[%s, re auction %s] %s", sender, dm.RelatedAuctionID, dm.Content))
	} else {
		s.notifier.Info(fmt.Sprintf("[%s] %s", sender, dm.Content))
	}
}

func removeItem(items []auction.Item, id string) []auction.Item {
	for i, item := range items {
		if item.ID == id {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}

func insertByEndTime(items []auction.Item, item auction.Item) []auction.Item {
	i := sort.Search(len(items), func(i int) bool {
		return items[i].EndTime.After(item.EndTime)
	})
	items = append(items, auction.Item{})
	copy(items[i+1:], items[i:])
	items[i] = item
	return items
}

// localIP guesses this host's outward-facing address. No packet is sent; the
// kernel just picks the route. Falls back to empty, letting the server use
// the address it observes on the socket.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
