package server

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gavel-auction/internal/protocol"
	"gavel-auction/internal/transport"
)

type sessionState int

// Per-connection lifecycle: a session is created on accept, becomes active
// only after a valid login and is closed exactly once on any exit path.
const (
	stateAwaitingLogin sessionState = iota
	stateActive
	stateClosed
)

// session owns one client connection on the server side. Its read loop is
// the only reader of the connection; everything it receives after login is
// handed to the coordinator.
type session struct {
	id    string
	coord *Coordinator
	conn  *transport.Conn

	mu       sync.Mutex
	state    sessionState
	userID   string
	username string

	remoteIP  string
	closeOnce sync.Once
	logger    zerolog.Logger
}

func newSession(coord *Coordinator, ws *websocket.Conn, remoteIP string, logger zerolog.Logger) *session {
	id := uuid.New().String()
	sessLogger := logger.With().Str("session_id", id).Logger()
	return &session{
		id:       id,
		coord:    coord,
		conn:     transport.NewConn(ws, sessLogger),
		state:    stateAwaitingLogin,
		remoteIP: remoteIP,
		logger:   sessLogger,
	}
}

func (s *session) send(env *protocol.Envelope) {
	if err := s.conn.Send(env); err != nil {
		s.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("Failed to send message to client")
		s.close()
	}
}

// readLoop drives the connection state machine. The first message must be a
// valid login; anything else gets a failure response and the connection
// never becomes active.
func (s *session) readLoop() {
	defer s.close()

	for {
		env, err := s.conn.ReadEnvelope()
		if err != nil {
			s.handleReadError(err)
			return
		}

		s.mu.Lock()
		state := s.state
		s.mu.Unlock()

		switch state {
		case stateAwaitingLogin:
			if !s.handleLogin(env) {
				return
			}
		case stateActive:
			s.coord.submit(s, env)
		default:
			return
		}
	}
}

func (s *session) handleLogin(env *protocol.Envelope) bool {
	if env.Type != protocol.TypeLogin {
		s.logger.Warn().Str("type", string(env.Type)).Msg("First message was not a login, closing connection")
		s.sendLoginFailure("Please log in first.")
		return false
	}

	login, err := protocol.PayloadAs[protocol.Login](env)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Malformed login payload")
		s.sendLoginFailure("Malformed login message.")
		return false
	}
	if err := login.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("Invalid login")
		s.sendLoginFailure("Login rejected: " + err.Error())
		return false
	}

	s.mu.Lock()
	s.state = stateActive
	s.userID = env.SenderID
	s.username = login.Username
	s.mu.Unlock()

	s.coord.registerSession(s, login)
	return true
}

func (s *session) sendLoginFailure(text string) {
	env, err := protocol.NewEnvelope(protocol.TypeLoginResponse, serverSenderID, protocol.LoginResponse{
		Success: false,
		Text:    text,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build login failure response")
		return
	}
	s.send(env)
}

func (s *session) handleReadError(err error) {
	switch {
	case errors.Is(err, protocol.ErrMalformedEnvelope), errors.Is(err, protocol.ErrTypeRequired):
		// Undecodable data: framing is intact, but the sender is not
		// speaking our protocol. Close cleanly.
		s.logger.Warn().Err(err).Msg("Undecodable message, closing connection")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.logger.Info().Msg("Client disconnected")
	default:
		s.logger.Info().Err(err).Msg("Connection lost")
	}
}

// close tears down the connection and deregisters the session. Safe on
// every exit path; only the first call has any effect.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()
		s.conn.Close()
		s.coord.dropSession(s)
	})
}
