// Package server exposes the live dashboard state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	addr      string
	router    *mux.Router
	hub       *Hub
	collector *telemetry.Collector
	upgrader  websocket.Upgrader
	log       logger.Logger

	mu      sync.RWMutex
	latest  *dashboard.State
	encoded []byte
}

type healthResponse struct {
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
	RailsStale bool      `json:"rails_stale"`
	HostStale  bool      `json:"host_stale"`
}

// New builds the router. collector may be nil, in which case /metrics is
// not served.
func New(addr string, collector *telemetry.Collector, log logger.Logger) *Server {
	s := &Server{
		addr:      addr,
		router:    mux.NewRouter(),
		hub:       NewHub(log),
		collector: collector,
		log:       log,
	}

	s.router.Use(s.instrument)
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.snapshotHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/stream", s.streamHandler).Methods(http.MethodGet)
	if collector != nil {
		s.router.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Publish stores st as the latest state and pushes it to stream
// subscribers.
func (s *Server) Publish(st dashboard.State) {
	b, err := json.Marshal(st)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode state")
		return
	}

	s.mu.Lock()
	s.latest = &st
	s.encoded = b
	s.mu.Unlock()

	s.hub.Broadcast(b)
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("Serving dashboard")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errFactory.Wrap(errors.ErrServe, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

// RunWith serves while work runs. Whichever fails first stops the other and
// its error is returned.
func (s *Server) RunWith(ctx context.Context, work func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error { return work(gctx) })

	return g.Wait()
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}

	status := "ok"
	if latest.Health.RailsStale || latest.Health.HostStale {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		At:         latest.At,
		RailsStale: latest.Health.RailsStale,
		HostStale:  latest.Health.HostStale,
	})
}

func (s *Server) snapshotHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	encoded := s.encoded
	s.mu.RUnlock()

	if encoded == nil {
		http.Error(w, "no sample yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(s.hub, conn)
	if !s.hub.add(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// instrument records request counts and latency per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.collector == nil || r.URL.Path == "/stream" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.collector.ObserveRequest(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
