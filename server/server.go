// Package server exposes receipt verification and challenge issuance over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vitwit/a402/config"
	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
	"github.com/vitwit/a402/verification"
)

// Service is the verification surface the HTTP layer needs. *a402.A402
// satisfies it.
type Service interface {
	Verify(ctx context.Context, c types.Challenge, receipt map[string]any) (*types.VerificationResult, error)
	VerifyStored(ctx context.Context, receipt map[string]any) (*types.VerificationResult, error)
	BatchVerify(ctx context.Context, requests []verification.Request) ([]*types.VerificationResult, error)
	IssueChallenge(ctx context.Context, tmpl types.Challenge) (*types.Challenge, error)
	Challenge(ctx context.Context, nonce string) (*types.Challenge, error)
	Supported() []types.Network
}

// Server is the HTTP server
type Server struct {
	svc     Service
	cfg     config.ServerConfig
	logger  logger.Logger
	router  *chi.Mux
	limiter *RateLimiter

	metricsPath    string
	metricsHandler http.Handler
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = logger.OrNoop(l)
	}
}

// WithMetricsHandler mounts h (typically promhttp) at path.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
	}
}

// New creates a new server
func New(svc Service, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.NoopLogger{},
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops background work started by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(maxBodySize(s.cfg.MaxBodyBytes))

	if s.cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(s.cfg.RateLimit.RequestsPerMin, s.cfg.RateLimit.Burst)
		s.router.Use(s.limiter.Middleware())
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		s.router.Method(http.MethodGet, s.metricsPath, s.metricsHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/networks", s.handleNetworks)
		r.Post("/verify", s.handleVerify)
		r.Post("/verify/batch", s.handleBatchVerify)
		r.Post("/challenges", s.handleIssueChallenge)
		r.Get("/challenges/{nonce}", s.handleGetChallenge)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"networks": s.svc.Supported()})
}

type verifyRequest struct {
	Challenge json.RawMessage `json:"challenge,omitempty"`
	Receipt   map[string]any  `json:"receipt"`
}

// handleVerify checks a receipt against the challenge in the body, or
// against the stored challenge its request nonce names.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidReceipt, err.Error())
		return
	}
	if req.Receipt == nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidReceipt, "receipt is required")
		return
	}

	var (
		result *types.VerificationResult
		err    error
	)
	if len(req.Challenge) == 0 || string(req.Challenge) == "null" {
		result, err = s.svc.VerifyStored(r.Context(), req.Receipt)
	} else {
		c, perr := utils.ParseChallenge(req.Challenge)
		if perr != nil {
			s.writeServiceError(w, perr)
			return
		}
		result, err = s.svc.Verify(r.Context(), *c, req.Receipt)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type batchItem struct {
	Challenge types.Challenge `json:"challenge"`
	Receipt   map[string]any  `json:"receipt"`
}

func (s *Server) handleBatchVerify(w http.ResponseWriter, r *http.Request) {
	var items []batchItem
	if err := decodeJSON(r, &items); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidReceipt, err.Error())
		return
	}

	requests := make([]verification.Request, 0, len(items))
	for i, item := range items {
		if err := utils.ValidateChallenge(&item.Challenge); err != nil {
			writeError(w, http.StatusBadRequest, types.ErrInvalidChallenge, fmt.Sprintf("item %d: %v", i, err))
			return
		}
		requests = append(requests, verification.Request{Challenge: item.Challenge, Receipt: item.Receipt})
	}

	results, err := s.svc.BatchVerify(r.Context(), requests)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	var tmpl types.Challenge
	if err := decodeJSON(r, &tmpl); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrInvalidChallenge, err.Error())
		return
	}

	c, err := s.svc.IssueChallenge(r.Context(), tmpl)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Challenge(r.Context(), chi.URLParam(r, "nonce"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var e *types.A402Error
	if errors.As(err, &e) {
		writeError(w, statusFor(e.Code), e.Code, e.Message)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "verification timed out")
		return
	}

	s.logger.Error("request failed", map[string]any{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}

func statusFor(code string) int {
	switch code {
	case types.ErrInvalidReceipt, types.ErrInvalidChallenge:
		return http.StatusBadRequest
	case types.ErrChallengeNotFound:
		return http.StatusNotFound
	case types.ErrChallengeExists:
		return http.StatusConflict
	case types.ErrUnsupportedNetwork, types.ErrUnsupportedAsset:
		return http.StatusUnprocessableEntity
	case types.ErrNonceStoreUnavailable, types.ErrNetworkError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func maxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				l.Info("request", map[string]any{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
					"request_id": middleware.GetReqID(r.Context()),
				})
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
