package server

import (
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/rs/zerolog"

	"gavel-auction/internal/auction"
	"gavel-auction/internal/config"
	"gavel-auction/internal/ports/outbound"
	"gavel-auction/internal/presence"
	"gavel-auction/internal/protocol"
)

// serverSenderID is the sender identity stamped on every server-originated
// envelope.
const serverSenderID = "server"

// Coordinator owns the server-side shared state: the session registry, the
// presence directory and the dispatch of client messages to the auction
// registry. It implements outbound.Broadcaster so the registry's committed
// state changes reach every connected session.
type Coordinator struct {
	registry  *auction.Registry
	directory *presence.Directory

	mu       sync.RWMutex
	sessions map[string]*session // userID -> active session

	activityMu   sync.Mutex
	lastActivity map[string]time.Time

	pool   *pond.WorkerPool
	cfg    *config.Config
	logger zerolog.Logger
}

type CoordinatorParams struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewCoordinator creates a new coordinator
func NewCoordinator(params CoordinatorParams) *Coordinator {
	return &Coordinator{
		directory:    presence.NewDirectory(),
		sessions:     make(map[string]*session),
		lastActivity: make(map[string]time.Time),
		pool:         pond.New(config.WSMaxWorkers, config.WSMaxCapacity),
		cfg:          params.Config,
		logger:       params.Logger.With().Str("component", "coordinator").Logger(),
	}
}

// SetRegistry wires the auction registry after construction; the registry
// needs the coordinator as its broadcaster.
func (c *Coordinator) SetRegistry(registry *auction.Registry) {
	c.registry = registry
}

// Directory exposes the presence directory for rendezvous lookups.
func (c *Coordinator) Directory() *presence.Directory {
	return c.directory
}

// Publish implements outbound.Broadcaster: a committed auction state change
// becomes an auction update pushed to every active session.
func (c *Coordinator) Publish(event outbound.Event) {
	item, ok := event.Item.(auction.Item)
	if !ok {
		c.logger.Error().Str("event_type", string(event.Type)).Msg("Event carried no auction snapshot")
		return
	}
	env, err := protocol.NewEnvelope(protocol.TypeAuctionUpdate, serverSenderID, protocol.AuctionUpdate{
		Item:        item,
		Description: event.Description,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode auction update")
		return
	}
	c.broadcast(env, "")
}

// broadcast delivers an envelope to every active session except the user
// named by excludeUserID. It iterates a snapshot of the live sessions, so a
// connection dropping mid-broadcast never fails delivery to the others.
func (c *Coordinator) broadcast(env *protocol.Envelope, excludeUserID string) {
	c.mu.RLock()
	targets := make([]*session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		targets = append(targets, sess)
	}
	c.mu.RUnlock()

	for _, sess := range targets {
		if excludeUserID != "" && sess.userID == excludeUserID {
			continue
		}
		sess.send(env)
	}
}

func (c *Coordinator) broadcastUserStatus(info presence.UserInfo, online bool) {
	env, err := protocol.NewEnvelope(protocol.TypeUserStatusUpdate, serverSenderID, protocol.UserStatusUpdate{
		User:   info,
		Online: online,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode user status update")
		return
	}
	// A presence event is never delivered to the session it is about.
	c.broadcast(env, info.UserID)
}

// registerSession runs after a valid login: record presence, reply with the
// initial snapshots and tell everyone else the user came online. A re-login
// under an already-registered id overwrites the presence entry and session
// reference without tearing down the prior connection.
func (c *Coordinator) registerSession(sess *session, login protocol.Login) {
	address := login.AdvertisedIP
	if address == "" {
		address = sess.remoteIP
	}
	info := presence.UserInfo{
		UserID:   sess.userID,
		Username: login.Username,
		Address:  address,
		PeerPort: login.PeerPort,
	}

	replaced := c.directory.Add(info)
	c.mu.Lock()
	c.sessions[sess.userID] = sess
	c.mu.Unlock()
	c.touch(sess.userID)

	if replaced {
		c.logger.Warn().Str("user_id", sess.userID).Msg("User was already connected, replacing session reference")
	}
	c.logger.Info().
		Str("user_id", sess.userID).
		Str("username", login.Username).
		Str("address", address).
		Int("peer_port", login.PeerPort).
		Int("total_online", c.directory.Len()).
		Msg("Client logged in")

	response, err := protocol.NewEnvelope(protocol.TypeLoginResponse, serverSenderID, protocol.LoginResponse{
		Success:  true,
		Text:     "Login successful",
		Auctions: c.registry.ListActive(),
		Users:    c.directory.Snapshot(),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode login response")
	} else {
		sess.send(response)
	}

	c.broadcastUserStatus(info, true)
}

// dropSession deregisters a closed session. The session registry is only
// touched when this session is still the registered one for its user, so an
// old connection dying after a re-login does not evict the new session.
// Removal from the directory fires exactly one offline broadcast; a second
// drop for the same user is a no-op.
func (c *Coordinator) dropSession(sess *session) {
	if sess.userID == "" {
		return
	}

	c.mu.Lock()
	if current, ok := c.sessions[sess.userID]; !ok || current != sess {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, sess.userID)
	c.mu.Unlock()

	c.activityMu.Lock()
	delete(c.lastActivity, sess.userID)
	c.activityMu.Unlock()

	info, removed := c.directory.Remove(sess.userID)
	if removed {
		c.logger.Info().
			Str("user_id", sess.userID).
			Str("username", info.Username).
			Int("total_online", c.directory.Len()).
			Msg("Client disconnected")
		c.broadcastUserStatus(info, false)
	}
}

// submit hands an active session's message to the worker pool.
func (c *Coordinator) submit(sess *session, env *protocol.Envelope) {
	c.pool.Submit(func() {
		c.handleEnvelope(sess, env)
	})
}

// handleEnvelope is the dispatch table over the message variants the server
// accepts from a logged-in client.
func (c *Coordinator) handleEnvelope(sess *session, env *protocol.Envelope) {
	c.logger.Debug().
		Str("user_id", sess.userID).
		Str("type", string(env.Type)).
		Msg("Handling client message")

	switch env.Type {
	case protocol.TypeLogout:
		c.logger.Info().Str("user_id", sess.userID).Msg("Client requested logout")
		sess.close()

	case protocol.TypeAuctionListRequest:
		c.sendAuctionList(sess)

	case protocol.TypePlaceBid:
		c.handlePlaceBid(sess, env)

	case protocol.TypeCreateAuction:
		c.handleCreateAuction(sess, env)

	case protocol.TypeKeepAlive:
		c.touch(sess.userID)

	case protocol.TypePeerInfoRequest:
		c.handlePeerInfoRequest(sess, env)

	case protocol.TypeLogin:
		// Already logged in; the duplicate is harmless but worth noting.
		c.logger.Warn().Str("user_id", sess.userID).Msg("Duplicate login message ignored")

	default:
		// Wrong-direction traffic is a protocol violation: log and
		// discard, connection stays open.
		if env.Type.ServerToClient() || env.Type.PeerToPeer() {
			c.logger.Warn().
				Str("user_id", sess.userID).
				Str("type", string(env.Type)).
				Msg("Server-only or peer-only message type from client, ignoring")
		} else {
			c.logger.Warn().
				Str("user_id", sess.userID).
				Str("type", string(env.Type)).
				Msg("Unknown message type from client, ignoring")
		}
	}
}

func (c *Coordinator) sendAuctionList(sess *session) {
	env, err := protocol.NewEnvelope(protocol.TypeAuctionListResponse, serverSenderID, protocol.AuctionListResponse{
		Active:     c.registry.ListActive(),
		Historical: c.registry.ListHistorical(),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode auction list response")
		return
	}
	sess.send(env)
}

func (c *Coordinator) handlePlaceBid(sess *session, env *protocol.Envelope) {
	bid, err := protocol.PayloadAs[protocol.PlaceBid](env)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", sess.userID).Msg("Malformed bid, ignoring")
		return
	}
	if err := bid.Validate(); err != nil {
		c.rejectToSender(sess, auction.Item{}, "Bid rejected: "+err.Error())
		return
	}

	bidderName := bid.BidderName
	if bidderName == "" {
		bidderName = sess.username
	}
	item, err := c.registry.PlaceBid(bid.AuctionID, sess.userID, bidderName, bid.Amount)
	if err != nil {
		// Acceptance is already broadcast by the registry; only the
		// requester hears about a rejection.
		c.rejectToSender(sess, item, "Bid rejected: "+err.Error())
	}
}

func (c *Coordinator) handleCreateAuction(sess *session, env *protocol.Envelope) {
	create, err := protocol.PayloadAs[protocol.CreateAuction](env)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", sess.userID).Msg("Malformed create auction message, ignoring")
		return
	}

	_, err = c.registry.Create(auction.CreateRequest{
		Name:            create.Name,
		Description:     create.Description,
		StartBid:        create.StartBid,
		DurationSeconds: create.DurationSeconds,
		SellerID:        sess.userID,
		SellerName:      sess.username,
	})
	if err != nil {
		c.rejectToSender(sess, auction.Item{}, "Auction rejected: "+err.Error())
	}
}

func (c *Coordinator) handlePeerInfoRequest(sess *session, env *protocol.Envelope) {
	req, err := protocol.PayloadAs[protocol.PeerInfoRequest](env)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", sess.userID).Msg("Malformed peer info request, ignoring")
		return
	}

	response := protocol.PeerInfoResponse{TargetID: req.TargetID}
	if info, ok := c.directory.Get(req.TargetID); ok {
		response.Address = info.Address
		response.Port = info.PeerPort
	}

	out, err := protocol.NewEnvelope(protocol.TypePeerInfoResponse, serverSenderID, response)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode peer info response")
		return
	}
	sess.send(out)
}

// rejectToSender addresses a validation failure to the requester only.
func (c *Coordinator) rejectToSender(sess *session, item auction.Item, text string) {
	env, err := protocol.NewEnvelope(protocol.TypeAuctionUpdate, serverSenderID, protocol.AuctionUpdate{
		Item:        item,
		Description: text,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode rejection notice")
		return
	}
	sess.send(env)
}

func (c *Coordinator) touch(userID string) {
	c.activityMu.Lock()
	c.lastActivity[userID] = time.Now()
	c.activityMu.Unlock()
}

// SweepAuctions runs one end-sweep iteration; ended notifications reach the
// clients through the registry's broadcaster (this coordinator).
func (c *Coordinator) SweepAuctions() {
	c.registry.EndSweep(time.Now())
}

// SweepInactive disconnects every user whose last activity is older than the
// configured timeout. A silent connection is torn down actively.
func (c *Coordinator) SweepInactive() {
	cutoff := time.Now().Add(-c.cfg.Timing.InactivityTimeout)

	c.activityMu.Lock()
	var stale []string
	for userID, last := range c.lastActivity {
		if last.Before(cutoff) {
			stale = append(stale, userID)
		}
	}
	c.activityMu.Unlock()

	for _, userID := range stale {
		c.mu.RLock()
		sess := c.sessions[userID]
		c.mu.RUnlock()
		if sess == nil {
			c.activityMu.Lock()
			delete(c.lastActivity, userID)
			c.activityMu.Unlock()
			continue
		}
		c.logger.Info().
			Str("user_id", userID).
			Dur("timeout", c.cfg.Timing.InactivityTimeout).
			Msg("Disconnecting inactive client")
		sess.close()
	}
}

// Shutdown closes every live session and stops the worker pool.
func (c *Coordinator) Shutdown() {
	c.mu.RLock()
	targets := make([]*session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		targets = append(targets, sess)
	}
	c.mu.RUnlock()

	for _, sess := range targets {
		sess.close()
	}
	c.pool.StopAndWait()
}
