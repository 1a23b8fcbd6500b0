// Package api serves features, rule-sets, segments and evaluations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/flagrules/internal/audit"
	"github.com/TimurManjosov/flagrules/internal/auth"
	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/snapshot"
	"github.com/TimurManjosov/flagrules/internal/store"
	"github.com/TimurManjosov/flagrules/internal/telemetry"
	"github.com/TimurManjosov/flagrules/internal/webhook"
)

const (
	maxRequestBodySize = 1 << 20
	requestTimeout     = 5 * time.Second
)

// Server wires the HTTP routes to the store, the snapshot and the evaluator.
type Server struct {
	store     store.Store
	env       string
	auth      *auth.Authenticator
	evaluator *engine.Evaluator
	audit     *audit.Service
	webhooks  *webhook.Dispatcher
	log       zerolog.Logger
	tracer    trace.Tracer
	rateLimit int
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func WithEvaluator(e *engine.Evaluator) Option { return func(s *Server) { s.evaluator = e } }

func WithAudit(a *audit.Service) Option { return func(s *Server) { s.audit = a } }

func WithWebhooks(d *webhook.Dispatcher) Option { return func(s *Server) { s.webhooks = d } }

// WithRateLimit sets the per-IP request budget per minute. Zero disables limiting.
func WithRateLimit(perMinute int) Option { return func(s *Server) { s.rateLimit = perMinute } }

// NewServer creates a server for one environment.
func NewServer(st store.Store, env string, creds auth.Credentials, opts ...Option) *Server {
	s := &Server{
		store:  st,
		env:    env,
		auth:   auth.NewAuthenticator(creds, denyAuth),
		log:    zerolog.Nop(),
		tracer: otel.Tracer("flagrules/api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.evaluator == nil {
		s.evaluator = engine.NewEvaluator(st, engine.WithLogger(s.log))
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	if s.rateLimit > 0 {
		r.Use(httprate.Limit(s.rateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(RateLimitedError),
		))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// long-lived; kept outside the request timeout
	r.With(s.auth.RequireRole(auth.RoleReadonly)).Get("/v1/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireRole(auth.RoleReadonly))
			r.Get("/v1/snapshot", s.handleSnapshot)
			r.Get("/v1/features", s.handleListFeatures)
			r.Get("/v1/features/{key}", s.handleGetFeature)
			r.Post("/v1/features/{key}/validate", s.handleValidateRules)
			r.Post("/v1/evaluate", s.handleEvaluate)
			r.Get("/v1/segments", s.handleListSegments)
			r.Get("/v1/segments/{id}", s.handleGetSegment)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireRole(auth.RoleAdmin))
			r.Put("/v1/features/{key}", s.handleUpsertFeature)
			r.Delete("/v1/features/{key}", s.handleDeleteFeature)
			r.Put("/v1/features/{key}/rules", s.handleSaveRules)
			r.Put("/v1/segments/{id}", s.handleUpsertSegment)
		})
	})

	return r
}

// RebuildSnapshot loads the served environment and swaps the atomic snapshot.
func (s *Server) RebuildSnapshot(ctx context.Context) error {
	features, err := s.store.ListFeatures(ctx, s.env)
	if err != nil {
		return err
	}
	snap := snapshot.Build(s.env, features)
	snapshot.Update(snap)
	telemetry.SnapshotFeatures.Set(float64(len(snap.Features)))
	return nil
}

// envParam returns ?env= or the served environment.
func (s *Server) envParam(r *http.Request) string {
	if env := r.URL.Query().Get("env"); env != "" {
		return env
	}
	return s.env
}

// afterWrite refreshes the snapshot when the write touched the served environment.
func (s *Server) afterWrite(r *http.Request, env string) {
	if env != s.env {
		return
	}
	if err := s.RebuildSnapshot(r.Context()); err != nil {
		s.log.Error().Err(err).Str("env", env).Msg("snapshot rebuild failed")
	}
}

func (s *Server) recordAudit(e audit.Event) {
	if s.audit != nil {
		s.audit.Log(e)
	}
}

func (s *Server) dispatch(e webhook.Event) {
	if s.webhooks != nil {
		s.webhooks.Dispatch(e)
	}
}

// requestLogger logs one line per request with status, size and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
