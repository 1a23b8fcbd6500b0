package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagrules/internal/api"
	"github.com/TimurManjosov/flagrules/internal/audit"
	"github.com/TimurManjosov/flagrules/internal/auth"
	"github.com/TimurManjosov/flagrules/internal/config"
	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/logging"
	"github.com/TimurManjosov/flagrules/internal/store"
	"github.com/TimurManjosov/flagrules/internal/telemetry"
	"github.com/TimurManjosov/flagrules/internal/webhook"
)

const auditQueueSize = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", false).Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}
	telemetry.Init()

	st, err := store.NewStore(ctx, store.Options{
		Type: cfg.StoreType,
		DSN:  cfg.DatabaseDSN,
		Path: cfg.FeaturesFile,
		Log:  log,
	})
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.StoreType).Msg("store")
	}
	defer st.Close()

	auditSvc := audit.NewService(auditSink(ctx, st, log), auditQueueSize, audit.WithLogger(log))
	dispatcher := newDispatcher(cfg, log)
	dispatcher.Start()

	evaluator := engine.NewEvaluator(st,
		engine.WithLogger(log),
		engine.WithRecorder(telemetry.EvaluationRecorder{}),
	)

	srvAPI := api.NewServer(st, cfg.Env, auth.Credentials{
		AdminKey:     cfg.AdminAPIKey,
		AdminKeyHash: cfg.AdminAPIKeyHash,
		ClientKey:    cfg.ClientAPIKey,
	},
		api.WithLogger(log),
		api.WithEvaluator(evaluator),
		api.WithAudit(auditSvc),
		api.WithWebhooks(dispatcher),
		api.WithRateLimit(cfg.RateLimitPerIP),
	)

	if err := srvAPI.RebuildSnapshot(ctx); err != nil {
		log.Fatal().Err(err).Msg("initial snapshot")
	}

	if fs, ok := st.(*store.FileStore); ok {
		err := fs.Watch(ctx, func() {
			if err := srvAPI.RebuildSnapshot(ctx); err != nil {
				log.Error().Err(err).Msg("rebuild snapshot after file change")
			}
		})
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.FeaturesFile).Msg("file watch disabled")
		}
	}

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srvAPI.Router(),
		ReadTimeout: 3 * time.Second,
		// SSE streams stay open; handlers bound their own work.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go serve(log, "api", srv)
	go serve(log, "metrics", metricsSrv)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	_ = dispatcher.Close()
	if err := auditSvc.Close(ctxShut); err != nil {
		log.Warn().Err(err).Msg("audit queue not drained")
	}
	if err := shutdownTracing(ctxShut); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("stopped")
}

func serve(log zerolog.Logger, name string, srv *http.Server) {
	log.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("server", name).Msg("server failed")
		os.Exit(1)
	}
}

// auditSink writes to the audit_log table when the store is postgres, to the log otherwise.
func auditSink(ctx context.Context, st store.Store, log zerolog.Logger) audit.Sink {
	ps, ok := st.(*store.PostgresStore)
	if !ok {
		return audit.NewLogSink(log)
	}
	sink := audit.NewPostgresSink(ps.Pool())
	if err := sink.Migrate(ctx); err != nil {
		log.Warn().Err(err).Msg("audit table unavailable, logging audit events instead")
		return audit.NewLogSink(log)
	}
	return sink
}

func newDispatcher(cfg *config.Config, log zerolog.Logger) *webhook.Dispatcher {
	endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
	for _, u := range cfg.WebhookURLs {
		endpoints = append(endpoints, webhook.Endpoint{URL: u, Secret: cfg.WebhookSecret})
	}
	return webhook.NewDispatcher(endpoints,
		webhook.WithLogger(log),
		webhook.WithMaxRetries(cfg.WebhookMaxRetries),
		webhook.WithDeliveryHook(func(d webhook.Delivery) {
			telemetry.RecordWebhookDelivery(d.EventType, d.Success())
		}),
	)
}
