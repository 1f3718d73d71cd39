// Package http serves the read-only ops API: health, agent usage and
// escalation listings. Mutations stay in the CLI and the stores.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rishsane/humuter-sub000/internal/store"
)

// ChannelStatus reports which channel adapters are running.
type ChannelStatus interface {
	GetStatus() map[string]bool
}

// Server is the ops HTTP server.
type Server struct {
	addr     string
	token    string
	version  string
	agents   store.AgentStore
	escal    store.EscalationStore
	channels ChannelStatus

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a server. An empty token disables authentication.
func NewServer(addr, token, version string, stores *store.Stores, channels ChannelStatus) *Server {
	return &Server{
		addr:     addr,
		token:    token,
		version:  version,
		agents:   stores.Agents,
		escal:    stores.Escalations,
		channels: channels,
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/agents", s.auth(s.handleListAgents))
	mux.HandleFunc("GET /v1/agents/{key}", s.auth(s.handleGetAgent))
	mux.HandleFunc("GET /v1/escalations", s.auth(s.handleListEscalations))
	s.mux = mux
	return mux
}

// Start listens until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("ops api starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("ops api: %w", err)
	}
	return nil
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := extractBearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "version": s.version}
	if s.channels != nil {
		resp["channels"] = s.channels.GetStatus()
	}
	writeJSON(w, http.StatusOK, resp)
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
