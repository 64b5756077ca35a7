package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gavel-auction/internal/config"
)

// Server accepts inbound client connections on the rendezvous port and hands
// each one to the coordinator as a session.
type Server struct {
	coordinator *Coordinator
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	config      *config.Config
	logger      zerolog.Logger
}

type ServerParams struct {
	Config      *config.Config
	Coordinator *Coordinator
	Logger      zerolog.Logger
}

func NewServer(params ServerParams) *Server {
	s := &Server{
		coordinator: params.Coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  params.Config.WebSocket.ReadBufferSize,
			WriteBufferSize: params.Config.WebSocket.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		config: params.Config,
		logger: params.Logger.With().Str("component", "server").Logger(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWebSocket)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", params.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Minute,
	}
	return s
}

// Start starts the rendezvous server
func (s *Server) Start() error {
	s.logger.Info().Int("port", s.config.Server.Port).Msg("Starting auction server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start auction server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server: no new connections, then every live
// session is closed.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping auction server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown auction server: %w", err)
	}
	s.coordinator.Shutdown()

	s.logger.Info().Msg("Auction server stopped")
	return nil
}

// handleWebSocket upgrades an inbound connection and starts its session.
// Every failure past this point is local to the one connection; the accept
// path itself never aborts.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}

	sess := newSession(s.coordinator, ws, remoteIP, s.logger)
	s.logger.Info().Str("remote", r.RemoteAddr).Str("session_id", sess.id).Msg("New client connection")
	go sess.readLoop()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok", "service": "gavel-auction"}`))
}
