package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bryanchriswhite/focushist/internal/history"
	"github.com/bryanchriswhite/focushist/internal/lease"
	"github.com/bryanchriswhite/focushist/internal/logger"
	"github.com/bryanchriswhite/focushist/internal/metrics"
)

const (
	shutdownTimeout = 3 * time.Second
	writeWait       = 5 * time.Second
)

// HistorySource exposes the focus history to diagnostics
type HistorySource interface {
	Snapshot() history.Snapshot
	Subscribe() chan history.FocusEvent
	Unsubscribe(chan history.FocusEvent)
}

// LeaseSource lists the rows of the lease registry
type LeaseSource interface {
	Leases(ctx context.Context) ([]lease.Lease, error)
}

// OwnershipSource reports this instance's current ownership
type OwnershipSource interface {
	Current() lease.Ownership
}

// Info describes the running instance
type Info struct {
	Holder  string   `json:"holder"`
	Outputs []string `json:"outputs"`
	Socket  string   `json:"socket"`
	Backend string   `json:"backend"`
}

// Sources bundles what the diagnostics routes read from
type Sources struct {
	Info      Info
	History   HistorySource
	Leases    LeaseSource
	Ownership OwnershipSource
	Gatherer  prometheus.Gatherer
}

// Server represents the read-only diagnostics HTTP server
type Server struct {
	router   *mux.Router
	src      Sources
	started  time.Time
	upgrader websocket.Upgrader
}

// NewServer creates a new diagnostics server
func NewServer(src Sources) *Server {
	if src.Gatherer == nil {
		src.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:  mux.NewRouter(),
		src:     src,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			// diagnostics are bound to a local address
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/leases", s.handleLeases).Methods("GET")
	api.HandleFunc("/focus/stream", s.handleFocusStream)

	s.router.Handle("/metrics", metrics.HandlerFor(s.src.Gatherer)).Methods("GET")
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	})
	defer stop()

	logger.WithComponent("api").Info().Str("addr", ln.Addr().String()).Msg("Diagnostics server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"instance":       s.src.Info,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.History.Snapshot())
}

type ownershipView struct {
	Holder     string   `json:"holder"`
	Held       []string `json:"held"`
	Superseded []string `json:"superseded"`
	Carved     []string `json:"carved"`
	Lost       bool     `json:"lost"`
}

func (s *Server) handleLeases(w http.ResponseWriter, r *http.Request) {
	rows, err := s.src.Leases.Leases(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	own := s.src.Ownership.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"leases": rows,
		"ownership": ownershipView{
			Holder:     own.Holder,
			Held:       own.Held(),
			Superseded: own.Superseded(),
			Carved:     own.Carved(),
			Lost:       own.Lost(),
		},
	})
}

func (s *Server) handleFocusStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.src.History.Subscribe()
	defer s.src.History.Unsubscribe(updates)

	// a reader is required to notice the peer closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if current, ok := latest(s.src.History.Snapshot()); ok {
		if err := s.write(conn, current); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := s.write(conn, ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, ev history.FocusEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

// latest returns the newest recorded event
func latest(snap history.Snapshot) (history.FocusEvent, bool) {
	if len(snap.Events) == 0 {
		return history.FocusEvent{}, false
	}
	return snap.Events[len(snap.Events)-1], true
}
