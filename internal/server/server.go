// Package server is the thin HTTP transport over the lifecycle engine in
// internal/app: routing, request decoding, CORS, the optional bot challenge,
// and the mapping from domain errors to stable outward statuses. No
// lifecycle rules live here.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"securedrop/internal/app"
)

// Core is what the transport needs from the lifecycle engine.
type Core interface {
	Upload(ctx context.Context, req app.UploadRequest) (app.UploadResult, error)
	Retrieve(ctx context.Context, id, identity string) (app.RetrieveResult, error)
	Delete(ctx context.Context, id string) (app.DeletionOutcome, error)
}

// BuildInfo identifies the running binary in the root endpoint and logs.
type BuildInfo struct {
	Version string
	Commit  string
}

// Config holds the transport settings.
type Config struct {
	Addr           string // e.g. ":8080"
	MaxUploadBytes int64
	AllowedOrigins []string
	Turnstile      *TurnstileVerifier // nil disables the challenge
	Mode           app.RetrievalMode
	Build          BuildInfo
}

// Server wraps the http.Server with the wired routes.
type Server struct {
	httpServer *http.Server
}

// New builds the route table and middleware chain.
func New(core Core, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           Routes(core, cfg, log),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Routes assembles the route table and middleware chain. Split out of New so
// tests can drive the full stack through httptest.
func Routes(core Core, cfg Config, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}

	h := &handlers{core: core, cfg: cfg, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("POST /upload", h.upload)
	mux.HandleFunc("GET /download/{file_id}", h.download)
	mux.HandleFunc("DELETE /file/{file_id}", h.deleteFile)

	// requestID -> logging -> CORS -> mux. CORS sits innermost so every
	// response, errors included, carries the headers.
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.AllowedOrigins, handler)
	handler = loggingMiddleware(log, handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Start listens and serves until Shutdown or a fatal error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handlers carries the shared handler dependencies.
type handlers struct {
	core Core
	cfg  Config
	log  *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "securedrop API is online",
		"version": h.cfg.Build.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
