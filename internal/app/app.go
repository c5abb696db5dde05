// Package app assembles the evaluation pipeline and its infrastructure from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/padcheck/api"
	"github.com/Aidin1998/padcheck/internal/advisory"
	"github.com/Aidin1998/padcheck/internal/audit"
	"github.com/Aidin1998/padcheck/internal/auth"
	"github.com/Aidin1998/padcheck/internal/compliance"
	"github.com/Aidin1998/padcheck/internal/config"
	"github.com/Aidin1998/padcheck/internal/database"
	"github.com/Aidin1998/padcheck/internal/instrument/external"
	"github.com/Aidin1998/padcheck/internal/instrument/fuzzy"
	"github.com/Aidin1998/padcheck/internal/instrument/reference"
	"github.com/Aidin1998/padcheck/internal/instrument/resolver"
	"github.com/Aidin1998/padcheck/internal/position"
	"github.com/Aidin1998/padcheck/internal/rules"
	"github.com/Aidin1998/padcheck/pkg/metrics"
)

// App owns every long-lived component.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Rules     *rules.Provider
	Fuzzy     *fuzzy.Cache
	Resolver  *resolver.Resolver
	Service   *compliance.Service
	Decisions *audit.GormSink

	closers []func() error
}

// Build connects to the configured stores and wires the pipeline. db may
// be supplied by the caller; nil opens one from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, db *gorm.DB) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if db == nil {
		db, err = database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return database.Close(db) })
	}
	a.DB = db
	if cfg.Database.AutoMigrate {
		if err = database.Migrate(db); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.Enabled() {
		a.Redis, err = database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Redis.Close)
	}

	adapter, err := a.externalAdapter()
	if err != nil {
		return nil, err
	}

	a.Fuzzy = fuzzy.New(reference.NewUniverseLoader(db), cfg.Fuzzy, logger)
	opts := []resolver.Option{
		resolver.WithFuzzy(a.Fuzzy, cfg.Fuzzy.MaxResults),
		resolver.WithLogger(logger),
	}
	if adapter != nil {
		opts = append(opts, resolver.WithExternal(adapter))
	}
	a.Resolver = resolver.New([]resolver.Tier{
		reference.NewSecurityTier(db),
		reference.NewSymbolMapTier(db),
		reference.NewProductTier(db),
	}, opts...)

	ruleOpts := []rules.ProviderOption{rules.WithTTL(cfg.Rules.CacheTTL), rules.WithLogger(logger)}
	if a.Redis != nil {
		ruleOpts = append(ruleOpts, rules.WithPublisher(rules.NewRedisPublisher(a.Redis, cfg.Rules.Channel)))
	}
	a.Rules = rules.NewProvider(rules.NewGormStore(db), ruleOpts...)

	sink := audit.NewMultiSink()
	if cfg.Audit.Log {
		sink.Add("log", audit.NewLogSink(logger))
	}
	if cfg.Audit.Store {
		a.Decisions = audit.NewGormSink(db)
		sink.Add("store", a.Decisions)
	}
	if cfg.Kafka.Enabled() {
		ks := audit.NewKafkaSink(audit.NewKafkaWriter(cfg.Kafka), logger)
		sink.Add("kafka", ks)
		a.closers = append(a.closers, ks.Close)
	}

	a.Service = compliance.NewService(compliance.Deps{
		Resolver: a.Resolver,
		Enricher: position.NewEnricher(position.NewRepository(db), cfg.Enrichment.Timeout, logger),
		Gate:     advisory.NewGate(reference.NewRestrictedList(db), logger),
		Rules:    a.Rules,
		Sink:     sink,
	}, logger)
	return a, nil
}

// externalAdapter builds the remote reference-data adapter, nil when no
// service is configured. Redis caches lookups when available, otherwise
// Badger does.
func (a *App) externalAdapter() (*external.Adapter, error) {
	cfg := a.Config.ExternalAPI
	if !cfg.Enabled() {
		a.Logger.Info("External reference data disabled")
		return nil, nil
	}
	var cache external.Cache
	if a.Redis != nil {
		cache = external.NewRedisCache(a.Redis)
	} else {
		bc, err := external.OpenBadgerCache(cfg.BadgerCacheDir)
		if err != nil {
			return nil, fmt.Errorf("open external cache: %w", err)
		}
		a.closers = append(a.closers, bc.Close)
		cache = bc
	}
	client := external.NewClient(cfg, cache, a.Logger)
	return external.NewAdapter(client, cfg.Timeout, a.Logger), nil
}

// Start loads the fuzzy index and begins the background jobs. A failed
// initial load leaves fuzzy matching empty until the next refresh.
func (a *App) Start(ctx context.Context) error {
	if err := a.Fuzzy.Load(ctx); err != nil {
		a.Logger.Warn("Initial fuzzy index load failed", zap.Error(err))
	}
	if err := a.Fuzzy.Start(ctx); err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { a.Fuzzy.Stop(); return nil })

	if a.Redis != nil {
		go func() {
			if err := a.Rules.Watch(ctx, a.Redis, a.Config.Rules.Channel); err != nil && ctx.Err() == nil {
				a.Logger.Error("Rules invalidation watch stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// SeedRules stores the rule set in path unless the store already holds
// one. force replaces the current rule set.
func (a *App) SeedRules(ctx context.Context, path string, force bool) (*rules.Snapshot, error) {
	store := rules.NewGormStore(a.DB)
	if !force {
		cur, err := store.Latest(ctx)
		switch {
		case err == nil:
			a.Logger.Info("Rules already seeded", zap.Int64("version", cur.Version))
			return cur, nil
		case !errors.Is(err, rules.ErrNotFound):
			return nil, err
		}
	}
	snap, err := rules.LoadYAMLFile(path)
	if err != nil {
		return nil, err
	}
	return a.Rules.Update(ctx, snap, "seed:"+path)
}

// Server builds the HTTP API over the pipeline.
func (a *App) Server() *api.Server {
	srv := a.Config.Server
	var verifier *auth.Verifier
	if srv.JWTSecret != "" {
		verifier = auth.NewVerifier(srv.JWTSecret, srv.JWTIssuer)
	}
	deps := api.Deps{
		Evaluator: a.Service,
		Rules:     a.Rules,
		Verifier:  verifier,
		Checks:    a.Checks(),
	}
	if a.Decisions != nil {
		deps.Decisions = a.Decisions
	}
	return api.NewServer(a.Logger, deps, api.Options{
		ServiceName:   a.Config.Telemetry.ServiceName,
		CORSOrigins:   srv.CORSOrigins,
		RatePerSecond: srv.RatePerSecond,
		RateBurst:     srv.RateBurst,
	})
}

// Checks are the readiness probes of the configured stores.
func (a *App) Checks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		// an empty universe still serves exact tiers; only a cache that
		// never loaded is reported
		"fuzzy_index": func(context.Context) error {
			if a.Fuzzy.BuiltAt().IsZero() {
				return errors.New("never loaded")
			}
			return nil
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

// RecordPoolStats publishes the database connection pool gauges.
func (a *App) RecordPoolStats() {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return
	}
	stats := sqlDB.Stats()
	driver := a.Config.Database.Driver
	metrics.DBOpenConns.WithLabelValues(driver).Set(float64(stats.OpenConnections))
	metrics.DBIdleConns.WithLabelValues(driver).Set(float64(stats.Idle))
	metrics.DBInUseConns.WithLabelValues(driver).Set(float64(stats.InUse))
}

// Close releases everything Build and Start acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
