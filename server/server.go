// Package server implements the monitoring HTTP server: REST API, auth and
// live SSE events for a running loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/pawl/comms"
	"github.com/GoCodeAlone/pawl/config"
	"github.com/GoCodeAlone/pawl/server/api"
	"github.com/GoCodeAlone/pawl/server/ws"
	"github.com/GoCodeAlone/pawl/task"
)

// Server is the monitoring HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger
	hub     *ws.Hub

	loop    api.Loop
	journal task.Journal
	bus     comms.Bus
	memory  api.Retriever

	routesOnce sync.Once
	detachHub  func()

	srvMu   sync.Mutex
	stopped bool

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		hub:       ws.NewHub(logger),
		startTime: time.Now(),
		version:   ver,
	}
}

// SetLoop attaches the loop the API controls.
func (s *Server) SetLoop(loop api.Loop) { s.loop = loop }

// SetJournal attaches the run journal served by /api/history.
func (s *Server) SetJournal(j task.Journal) { s.journal = j }

// SetBus attaches the event bus feeding /api/events and the SSE stream.
func (s *Server) SetBus(bus comms.Bus) { s.bus = bus }

// SetMemory attaches the retriever served by /api/memory.
func (s *Server) SetMemory(m api.Retriever) { s.memory = m }

// Handler returns the root handler, registering routes on first use.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Listen binds the configured address, ":9090" when unset.
func (s *Server) Listen() (net.Listener, error) {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	return net.Listen("tcp", addr)
}

// Start listens and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called. A clean shutdown
// returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.srvMu.Lock()
	if s.stopped {
		s.srvMu.Unlock()
		return ln.Close()
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	srv := s.httpSrv
	s.srvMu.Unlock()

	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server. Open SSE streams end when ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.srvMu.Lock()
	s.stopped = true
	srv := s.httpSrv
	detach := s.detachHub
	s.srvMu.Unlock()

	if detach != nil {
		detach()
	}
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Loop:    s.loop,
		Journal: s.journal,
		Bus:     s.bus,
		Memory:  s.memory,
		Logger:  s.logger,
		Version: s.version,
		StartAt: s.startTime.Unix(),
	}
	if s.bus != nil {
		s.detachHub = s.hub.Attach(s.bus)
	}

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// SSE: EventSource can't set headers, so the token is a query param
	s.mux.HandleFunc("GET /events", s.handleSSE)

	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE authenticates the token query parameter and hands the
// connection to the hub.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, err := verifyToken(s.jwtSecret(), r.URL.Query().Get("token")); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	s.hub.ServeSSE(w, r)
}
