package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/quantpilot/execution-pipeline/internal/observ"
)

// Server exposes run health, metrics, and the latest result over HTTP while
// a pipeline pass is in flight. It is read-only; nothing here mutates run
// state.
type Server struct {
	mu     sync.RWMutex
	result any
	srv    *http.Server
}

func NewServer(addr string) *Server {
	s := &Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observ.Handler())
	mux.HandleFunc("/result", s.handleResult)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Close. Errors after shutdown are swallowed; a failed
// bind is logged and the pipeline run continues without the endpoint.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogError("ops_server_failed", err, map[string]any{"addr": s.srv.Addr})
		}
	}()
}

func (s *Server) Close() error {
	return s.srv.Close()
}

// SetResult publishes the terminal run result on /result.
func (s *Server) SetResult(result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	result := s.result
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = json.NewEncoder(w).Encode(result)
}
