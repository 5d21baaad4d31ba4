package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/database"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/service"
	"chatsync/internal/tracing"
	"chatsync/internal/validation"
	"chatsync/pkg/circuitbreaker"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// BreakerReporter exposes the REST client's circuit breaker
type BreakerReporter interface {
	BreakerStats() circuitbreaker.Stats
}

// ConnectionReporter reports whether the push channel is up
type ConnectionReporter interface {
	Connected() bool
}

// Deps are the components the local API serves
type Deps struct {
	Store     *database.Store
	Cache     *service.CacheService
	Sync      *service.SyncService
	Badges    *service.BadgeAggregator
	Scheduler *service.Scheduler
	Metrics   *metrics.Registry
	Breaker   BreakerReporter
	Realtime  ConnectionReporter
}

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	cfg     models.ServerConfig
	deps    Deps
	server  *http.Server
	baseCtx context.Context
}

// NewServer wires the local API routes. Background syncs started over HTTP
// run under ctx, not under the request.
func NewServer(ctx context.Context, cfg models.ServerConfig, deps Deps, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		cfg:     cfg,
		deps:    deps,
		baseCtx: ctx,
	}

	s.router.Use(middleware.ObservabilityMiddleware(logger, deps.Metrics))
	s.router.Use(middleware.LoopbackOnly(logger))
	if verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(logger, middleware.DefaultDetailedLoggingConfig()))
	}
	s.setupRoutes()

	addr := cfg.ListenAddr
	if addr == "" {
		addr = constants.DefaultListenAddr
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  seconds(cfg.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout: seconds(cfg.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:  seconds(cfg.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	conversations := s.router.PathPrefix("/conversations").Subrouter()
	conversations.HandleFunc("", s.handleGetConversations()).Methods(http.MethodGet)
	conversations.HandleFunc("", s.handleCacheConversation()).Methods(http.MethodPost)
	conversations.HandleFunc("/{id}/messages", s.handleGetMessages()).Methods(http.MethodGet)
	conversations.HandleFunc("/{id}/cursor", s.handleGetCursor()).Methods(http.MethodGet)
	conversations.HandleFunc("/{id}/sync", s.handleSync()).Methods(http.MethodPost)

	s.router.HandleFunc("/messages", s.handleCacheMessages()).Methods(http.MethodPost)
	s.router.HandleFunc("/cache", s.handleClearCache()).Methods(http.MethodDelete)
	s.router.HandleFunc("/badges", s.handleBadges()).Methods(http.MethodGet)
	s.router.HandleFunc("/focus", s.handleFocus()).Methods(http.MethodPost)
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.WithField(service.LogFieldEndpoint, s.server.Addr).Info("Starting local API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

type healthResponse struct {
	Status   string          `json:"status"`
	Store    string          `json:"store"`
	Cache    service.Health  `json:"cache"`
	Stats    *database.Stats `json:"stats,omitempty"`
	Breaker  *breakerHealth  `json:"breaker,omitempty"`
	Realtime *bool           `json:"realtime_connected,omitempty"`
	Sync     map[string]int  `json:"sync"`
	Badges   service.Badges  `json:"badges"`
}

type breakerHealth struct {
	circuitbreaker.Stats
	State string `json:"state"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := healthResponse{
			Status: "healthy",
			Store:  "ok",
			Cache:  s.deps.Cache.Health(),
			Sync:   map[string]int{"in_flight": s.deps.Sync.InFlight()},
			Badges: s.deps.Badges.Current(),
		}
		status := http.StatusOK

		if err := s.deps.Store.Health(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Store = string(apperrors.GetCode(err))
			status = http.StatusServiceUnavailable
		} else if stats, err := s.deps.Store.Stats(ctx); err == nil {
			resp.Stats = stats
		}
		if !resp.Cache.OK && status == http.StatusOK {
			resp.Status = "degraded"
		}

		if s.deps.Breaker != nil {
			stats := s.deps.Breaker.BreakerStats()
			resp.Breaker = &breakerHealth{Stats: stats, State: stats.State.String()}
		}
		if s.deps.Realtime != nil {
			connected := s.deps.Realtime.Connected()
			resp.Realtime = &connected
		}

		s.writeJSON(w, r, status, resp)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		s.writeJSON(w, r, http.StatusOK, s.deps.Metrics.Snapshot())
	}
}

func (s *Server) handleGetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, s.deps.Cache.GetConversations(r.Context()))
	}
}

func (s *Server) handleCacheConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := s.readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var conv models.Conversation
		if err := json.Unmarshal(body, &conv); err != nil {
			s.writeError(w, r, apperrors.NewMalformedInputError("body", "invalid conversation document"))
			return
		}
		if err := validation.ValidateConversation(&conv); err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, r, http.StatusOK, map[string]bool{"cached": s.deps.Cache.CacheConversation(r.Context(), &conv)})
	}
}

func (s *Server) handleGetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := conversationParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		limit := constants.DefaultMessagePageSize
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, r, apperrors.NewMalformedInputError("limit", "limit must be an integer"))
				return
			}
			if err := validation.ValidateNumericRange(limit, "limit", 1, constants.MaxMessagePageSize); err != nil {
				s.writeError(w, r, err)
				return
			}
		}

		ctx := apperrors.ContextWithConversationID(r.Context(), conversationID)
		s.writeJSON(w, r, http.StatusOK, s.deps.Cache.GetMessages(ctx, conversationID, limit))
	}
}

func (s *Server) handleGetCursor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := conversationParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := apperrors.ContextWithConversationID(r.Context(), conversationID)
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"conversationId": conversationID,
			"lastSyncTime":   s.deps.Cache.GetLastSyncTime(ctx, conversationID),
		})
	}
}

// handleSync starts a Delta Loader fetch in the background. With ?wait=true
// it runs in the request and returns the result.
func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := conversationParam(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
			ctx := apperrors.ContextWithConversationID(r.Context(), conversationID)
			result, err := s.deps.Sync.SyncConversation(ctx, conversationID)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			s.writeJSON(w, r, http.StatusOK, result)
			return
		}

		requestID := tracing.GetRequestID(r.Context())
		go func() {
			ctx := tracing.NewRequestContext(s.baseCtx, requestID)
			ctx = apperrors.ContextWithConversationID(ctx, conversationID)
			if _, err := s.deps.Sync.SyncConversation(ctx, conversationID); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeCanceled) {
				apperrors.FromLogrus(s.logger).LogRetryableError(err, "Background sync failed", logrus.Fields{
					service.LogFieldRequestID: requestID,
				})
			}
		}()

		s.writeJSON(w, r, http.StatusAccepted, map[string]string{
			"conversationId": conversationID,
			"status":         "started",
		})
	}
}

type cacheMessagesResponse struct {
	Received int `json:"received"`
	Cached   int `json:"cached"`
}

// handleCacheMessages accepts one message document or an array of them
func (s *Server) handleCacheMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := s.readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var msgs []*models.Message
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &msgs)
		} else {
			var msg models.Message
			err = json.Unmarshal(trimmed, &msg)
			msgs = []*models.Message{&msg}
		}
		if err != nil {
			s.writeError(w, r, apperrors.NewMalformedInputError("body", "invalid message document"))
			return
		}

		s.writeJSON(w, r, http.StatusOK, cacheMessagesResponse{
			Received: len(msgs),
			Cached:   s.deps.Cache.CacheMessages(r.Context(), msgs),
		})
	}
}

func (s *Server) handleClearCache() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.Cache.ClearCache(r.Context()) {
			s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]interface{}{
				"cleared": false,
				"cache":   s.deps.Cache.Health(),
			})
			return
		}
		s.deps.Badges.Reset()
		s.writeJSON(w, r, http.StatusOK, map[string]bool{"cleared": true})
	}
}

func (s *Server) handleBadges() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, s.deps.Badges.Current())
	}
}

func (s *Server) handleFocus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.deps.Badges.OnFocus()
		if s.deps.Scheduler != nil {
			s.deps.Scheduler.Focus()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func conversationParam(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	if err := validation.ValidateConversationID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if err := validation.ValidateHTTPRequestSize(r, constants.MaxRequestBodyBytes); err != nil {
		return nil, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperrors.NewMalformedInputError("body", fmt.Sprintf("failed to read request body: %v", err))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperrors.NewMalformedInputError("body", "request body is empty")
	}
	return body, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
			service.LogFieldEndpoint:  r.URL.Path,
		}).WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	requestID := tracing.GetRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		apperrors.FromLogrus(s.logger).LogRetryableError(err, "Request failed", logrus.Fields{
			service.LogFieldRequestID: requestID,
		})
	}
	s.writeJSON(w, r, status, apperrors.ToHTTPResponse(err, requestID))
}
