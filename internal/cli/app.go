package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conversions/config"
	"conversions/internal/assembler"
	"conversions/internal/classifier"
	"conversions/internal/clickhouse"
	"conversions/internal/correlation"
	"conversions/internal/identifiers"
	"conversions/internal/meta"
	"conversions/internal/pii"
	"conversions/internal/pipeline"
	"conversions/internal/postgres"
	"conversions/internal/signature"
	"conversions/internal/telemetry"
)

// app is the wired pipeline plus everything that must be closed with it.
type app struct {
	pipeline *pipeline.Pipeline
	// store backs the /cookies endpoints; nil unless the backend is writable.
	store   correlation.Store
	closers []func() error
	logger  *slog.Logger
}

type appOptions struct {
	dryRun bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{logger: logger}
	p, err := a.wire(ctx, cfg, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = p
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config, opts appOptions) (*pipeline.Pipeline, error) {
	logger := a.logger

	providers, err := telemetry.NewProviders(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	providers.SetGlobal()
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return providers.Shutdown(shutdownCtx)
	})

	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("conversions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	rules, err := config.LoadClassifierRules(cfg.Pipeline.RulesFile)
	if err != nil {
		return nil, err
	}

	lookup, err := a.correlationBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Verifier:   signature.NewVerifier(cfg.Shopify.WebhookSecret, cfg.Shopify.SignatureMode == config.SignatureEnforcing),
		Classifier: classifier.New(rules),
		Resolver:   identifiers.NewResolver(lookup, cfg.Correlation.LookupTimeout),
		Normalizer: pii.NewNormalizer(cfg.Pipeline.PhoneCountryCode),
		Assembler:  assembler.New(cfg.Meta, cfg.Pipeline),
		Metrics:    metrics,
		Logger:     logger,
	}
	if !opts.dryRun {
		deps.Dispatcher = meta.NewClient(cfg.Meta)
	}

	if cfg.ClickHouse.Enabled() && !opts.dryRun {
		ch, err := clickhouse.NewClient(cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ch.Close)
		if err := ch.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		deps.Recorder = ch
		logger.Info("delivery outcome log enabled", "clickhouse_host", cfg.ClickHouse.Host)
	}

	if cfg.Shopify.WebhookSecret == "" {
		logger.Warn("SHOPIFY_WEBHOOK_SECRET is not set, webhook signatures are not checked")
	}

	return pipeline.New(deps), nil
}

// correlationBackend returns the lookup used for enrichment and, when the
// backend is writable, sets a.store.
func (a *app) correlationBackend(ctx context.Context, cfg *config.Config) (correlation.Lookup, error) {
	ttl := cfg.Correlation.TTL

	switch cfg.Correlation.Backend {
	case config.CorrelationNone:
		return nil, nil
	case config.CorrelationHTTP:
		return correlation.NewHTTPLookup(cfg.Correlation.LookupURL, cfg.Correlation.LookupTimeout), nil
	case config.CorrelationMemory:
		a.logger.Warn("using in-memory correlation store, records are lost on restart")
		a.store = correlation.NewMemoryStore(ttl)
	case config.CorrelationRedis:
		client := correlation.NewRedisClient(cfg.Redis)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.store = correlation.NewRedisStore(client, ttl)
	case config.CorrelationPostgres:
		pg, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		store := correlation.NewPostgresStore(pg.DB(), ttl)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		a.store = store
	default:
		return nil, fmt.Errorf("unknown correlation backend %q", cfg.Correlation.Backend)
	}

	a.logger.Info("correlation store ready", "backend", cfg.Correlation.Backend)
	return a.store, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
