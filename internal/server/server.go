// Package server binds the gateway's HTTP surface: the signed inbound event
// endpoints and the OAuth install/callback pair.
//
// Inbound request flow:
//
//  1. POST arrives at /slack/events, /slack/commands, or /slack/interactions
//  2. Body size checked against the limit (413 if exceeded)
//  3. v0 signature verified over the raw body bytes (401 on any failure,
//     generic body, no detail leaked)
//  4. Body classified into a typed event (400 on unknown or malformed)
//  5. url_verification short-circuits: the challenge is echoed, no dispatch
//  6. Everything else goes through the dispatch pipeline; the pipeline's
//     acknowledgment (or auto-ack) becomes the HTTP response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/bellhop/internal/dispatch"
	"github.com/mattjoyce/bellhop/internal/envelope"
	"github.com/mattjoyce/bellhop/internal/oauth"
	"github.com/mattjoyce/bellhop/internal/signature"
)

// Config holds server settings.
type Config struct {
	Listen        string
	SigningSecret string
	MaxBodySize   int64

	// Post-install browser destinations. Empty values degrade to JSON/text
	// responses.
	SuccessURL string
	DeniedURL  string
}

// DefaultMaxBodySize caps inbound bodies when no limit is configured.
const DefaultMaxBodySize = 1 << 20 // 1 MiB

// Server is the gateway HTTP server.
type Server struct {
	config   Config
	pipeline *dispatch.Pipeline
	flow     *oauth.Flow
	logger   *slog.Logger
	server   *http.Server
}

// New creates a server. flow may be nil for single-workspace deployments
// without OAuth endpoints.
func New(config Config, pipeline *dispatch.Pipeline, flow *oauth.Flow, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Server{
		config:   config,
		pipeline: pipeline,
		flow:     flow,
		logger:   logger,
	}
}

// Start starts the HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("gateway server starting", "listen", s.config.Listen, "oauth", s.flow != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gateway server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("gateway server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/slack/events", s.handleInbound)
	r.Post("/slack/commands", s.handleInbound)
	r.Post("/slack/interactions", s.handleInbound)

	if s.flow != nil {
		r.Get("/slack/install", s.handleInstall)
		r.Get("/slack/oauth/callback", s.handleCallback)
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads and signatures).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("gateway request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleInbound authenticates, classifies, and dispatches one webhook request.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := signature.VerifyRequest(s.config.SigningSecret, r.Header, body, time.Now()); err != nil {
		s.logger.Warn("request signature rejected",
			"path", r.URL.Path,
			"reason", err,
		)
		// Generic body: the response must not act as a signing oracle.
		s.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ev, err := envelope.Parse(body, r.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Warn("request body rejected", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	// url_verification bypasses dispatch entirely: echo the challenge.
	if ev.Kind == envelope.KindURLVerification {
		s.respondJSON(w, http.StatusOK, map[string]string{"challenge": ev.Challenge})
		return
	}

	// Detach from the request context so listeners still running after the
	// auto-ack deadline aren't cancelled when this handler returns.
	resp := s.pipeline.Dispatch(context.WithoutCancel(r.Context()), ev)
	s.writeDispatchResponse(w, resp)
}

func (s *Server) writeDispatchResponse(w http.ResponseWriter, resp *dispatch.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// handleInstall redirects the installing user to the authorize URL.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	installURL, err := s.flow.InstallURL(r.Context())
	if err != nil {
		s.logger.Error("failed to build install url", "error", err)
		s.respondError(w, http.StatusInternalServerError, "install unavailable")
		return
	}
	http.Redirect(w, r, installURL, http.StatusFound)
}

// handleCallback completes the authorization-code callback.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("error") == "access_denied" {
		s.logger.Info("oauth grant denied by user")
		if s.config.DeniedURL != "" {
			http.Redirect(w, r, s.config.DeniedURL, http.StatusSeeOther)
			return
		}
		s.respondError(w, http.StatusForbidden, "installation cancelled")
		return
	}

	inst, err := s.flow.HandleCallback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		s.logger.Warn("oauth callback failed", "error", err)
		switch {
		case errors.Is(err, oauth.ErrStoreFailure):
			s.respondError(w, http.StatusInternalServerError, "installation failed")
		default:
			s.respondError(w, http.StatusBadRequest, "installation failed")
		}
		return
	}

	if s.config.SuccessURL != "" {
		http.Redirect(w, r, s.config.SuccessURL, http.StatusSeeOther)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"ok": "true", "team_id": inst.TeamID})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
