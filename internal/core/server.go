package core

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"notibridge/internal/bridge"
	"notibridge/pkg/logx"
)

// statusServer exposes the bridge's liveness surface: GET /health and
// GET /status. It has no business logic; it only reads the listener's
// running state and the forwarder's configuration/stats.
type statusServer struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string

	running   func() bool
	targetURL string
	bucket    string
	stats     func() bridge.Snapshot
}

func newStatusServer(log logx.Logger, running func() bool, fwd *bridge.Forwarder) *statusServer {
	return &statusServer{
		log:       log,
		running:   running,
		targetURL: fwd.BaseURL(),
		bucket:    fwd.Bucket(),
		stats:     fwd.Stats().Snapshot,
	}
}

func (s *statusServer) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: addr, Handler: mux}
	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("status server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("status server listening", logx.String("addr", s.addr))
	return nil
}

func (s *statusServer) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""
	s.mu.Unlock()

	if srv == nil {
		return
	}

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("status server shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
}

// Addr reports the actual listen address if running.
func (s *statusServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *statusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"status":           "healthy",
		"listener_running": strconv.FormatBool(s.running()),
	})
}

func (s *statusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"running":    s.running(),
		"target_url": s.targetURL,
		"bucket":     s.bucket,
		"stats":      s.stats(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
