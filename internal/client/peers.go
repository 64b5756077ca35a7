package client

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gavel-auction/internal/config"
	"gavel-auction/internal/protocol"
	"gavel-auction/internal/transport"
)

// peerManager owns this client's side of the peer-to-peer plane: the
// listener other clients dial after rendezvous, the map of established peer
// connections (at most one per remote id) and the per-target queues of
// messages sent before a connection existed.
type peerManager struct {
	session  *Session
	cfg      config.PeerConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	listener   net.Listener
	httpServer *http.Server
	port       int

	mu      sync.Mutex
	conns   map[string]*transport.Conn
	pending map[string][]*protocol.Envelope
}

func newPeerManager(session *Session, cfg *config.Config, logger zerolog.Logger) *peerManager {
	return &peerManager{
		session: session,
		cfg:     cfg.Peer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "peer_manager").Logger(),
		conns:   make(map[string]*transport.Conn),
		pending: make(map[string][]*protocol.Envelope),
	}
}

// start probes sequential ports from the configured base until one is free.
// Running out of ports is fatal to the client: rendezvous depends on the
// listener, so the client must not silently proceed without one.
func (pm *peerManager) start() error {
	var lastErr error
	for i := 0; i < pm.cfg.PortAttempts; i++ {
		port := pm.cfg.BasePort + i
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		pm.listener = listener
		pm.port = port
		break
	}
	if pm.listener == nil {
		return fmt.Errorf("no free peer port after %d attempts starting at %d: %w",
			pm.cfg.PortAttempts, pm.cfg.BasePort, lastErr)
	}

	router := mux.NewRouter()
	router.HandleFunc("/peer", pm.handleInbound)
	pm.httpServer = &http.Server{Handler: router}

	go func() {
		if err := pm.httpServer.Serve(pm.listener); err != nil && err != http.ErrServerClosed {
			pm.logger.Error().Err(err).Msg("Peer listener stopped unexpectedly")
		}
	}()

	pm.logger.Info().Int("port", pm.port).Msg("Peer listener started")
	return nil
}

// handleInbound accepts an unsolicited peer connection. The remote identity
// is unknown until its first message arrives.
func (pm *peerManager) handleInbound(w http.ResponseWriter, r *http.Request) {
	ws, err := pm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pm.logger.Error().Err(err).Msg("Failed to upgrade inbound peer connection")
		return
	}
	pm.logger.Info().Str("remote", r.RemoteAddr).Msg("Inbound peer connection")
	conn := transport.NewConn(ws, pm.logger)
	go pm.readLoop(conn, "")
}

// dial connects out to a peer discovered through rendezvous. Dialing an id
// that already has an open connection is a no-op beyond draining whatever
// queued up for it in the meantime.
func (pm *peerManager) dial(peerID, address string, port int) error {
	pm.mu.Lock()
	_, exists := pm.conns[peerID]
	pm.mu.Unlock()
	if exists {
		pm.logger.Debug().Str("peer_id", peerID).Msg("Already connected to peer")
		pm.flushPending(peerID)
		return nil
	}

	url := fmt.Sprintf("ws://%s/peer", net.JoinHostPort(address, fmt.Sprintf("%d", port)))
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial peer %s at %s:%d: %w", peerID, address, port, err)
	}

	conn := transport.NewConn(ws, pm.logger)
	pm.register(peerID, conn)
	go pm.readLoop(conn, peerID)

	pm.logger.Info().Str("peer_id", peerID).Str("address", address).Int("port", port).Msg("Connected to peer")
	pm.flushPending(peerID)
	return nil
}

// register keeps at most one connection per remote id, overwriting a stale
// entry if the peer reconnected.
func (pm *peerManager) register(peerID string, conn *transport.Conn) {
	pm.mu.Lock()
	if old, ok := pm.conns[peerID]; ok && old != conn {
		pm.logger.Warn().Str("peer_id", peerID).Msg("Replacing existing peer connection")
	}
	pm.conns[peerID] = conn
	pm.mu.Unlock()
}

// readLoop consumes one peer connection. For an accepted connection peerID
// starts empty: the first message's sender id becomes the connection's
// identity and the message itself is processed normally. Any later message
// with a different sender id is discarded; the connection stays open.
func (pm *peerManager) readLoop(conn *transport.Conn, peerID string) {
	defer func() {
		conn.Close()
		if peerID != "" {
			pm.mu.Lock()
			if pm.conns[peerID] == conn {
				delete(pm.conns, peerID)
			}
			pm.mu.Unlock()
			pm.logger.Info().Str("peer_id", peerID).Msg("Peer connection closed")
		}
	}()

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			pm.logger.Debug().Err(err).Str("peer_id", peerID).Msg("Peer read finished")
			return
		}

		if peerID == "" {
			peerID = env.SenderID
			pm.register(peerID, conn)
			pm.logger.Info().Str("peer_id", peerID).Str("remote", conn.RemoteAddr()).Msg("Peer connection identified")
			pm.flushPending(peerID)
		} else if env.SenderID != peerID {
			pm.logger.Warn().
				Str("peer_id", peerID).
				Str("sender_id", env.SenderID).
				Msg("Peer message with unexpected sender id, discarding")
			continue
		}

		pm.session.handlePeerEnvelope(env)
	}
}

// send delivers an envelope if a connection to the peer is open.
func (pm *peerManager) send(peerID string, env *protocol.Envelope) bool {
	pm.mu.Lock()
	conn, ok := pm.conns[peerID]
	pm.mu.Unlock()
	if !ok {
		return false
	}
	return conn.Send(env) == nil
}

// enqueue stores a message for a peer with no open connection yet.
func (pm *peerManager) enqueue(peerID string, env *protocol.Envelope) {
	pm.mu.Lock()
	pm.pending[peerID] = append(pm.pending[peerID], env)
	pm.mu.Unlock()
}

// flushPending drains a peer's queue in FIFO order, exactly once: the queue
// is detached under the lock before a single message is sent.
func (pm *peerManager) flushPending(peerID string) {
	pm.mu.Lock()
	queued := pm.pending[peerID]
	delete(pm.pending, peerID)
	conn, ok := pm.conns[peerID]
	pm.mu.Unlock()

	if len(queued) == 0 {
		return
	}
	if !ok {
		pm.logger.Warn().Str("peer_id", peerID).Int("count", len(queued)).Msg("No connection to flush pending messages to")
		return
	}
	for _, env := range queued {
		if err := conn.Send(env); err != nil {
			pm.logger.Warn().Err(err).Str("peer_id", peerID).Msg("Failed to deliver pending message")
			return
		}
	}
	pm.logger.Info().Str("peer_id", peerID).Int("count", len(queued)).Msg("Pending messages delivered")
}

// dropPending discards a peer's queue, returning how many messages were lost.
func (pm *peerManager) dropPending(peerID string) int {
	pm.mu.Lock()
	n := len(pm.pending[peerID])
	delete(pm.pending, peerID)
	pm.mu.Unlock()
	return n
}

// closePeer shuts the connection to one peer, if any.
func (pm *peerManager) closePeer(peerID string) {
	pm.mu.Lock()
	conn, ok := pm.conns[peerID]
	delete(pm.conns, peerID)
	pm.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// stop closes the listener and every open peer connection.
func (pm *peerManager) stop() {
	if pm.httpServer != nil {
		pm.httpServer.Close()
	}
	pm.mu.Lock()
	conns := make([]*transport.Conn, 0, len(pm.conns))
	for _, conn := range pm.conns {
		conns = append(conns, conn)
	}
	pm.conns = make(map[string]*transport.Conn)
	pm.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}
