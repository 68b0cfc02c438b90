package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/a402"
	"github.com/vitwit/a402/challenge"
	"github.com/vitwit/a402/config"
	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/metrics"
	"github.com/vitwit/a402/nonce"
	"github.com/vitwit/a402/signing"
	"github.com/vitwit/a402/storage"
	"github.com/vitwit/a402/types"
)

// app is everything a402d builds from its configuration.
type app struct {
	cfg        *config.Config
	log        *logger.ZapLogger
	registry   *prometheus.Registry
	nonces     nonce.Ledger
	challenges challenge.Store
	a402       *a402.A402

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.NewZapLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.NewPrometheusRecorder(a.registry)
	}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	verifier, err := signing.NewVerifier(signing.Scheme(cfg.Signing.Scheme), cfg.Signing.Keys)
	if err != nil {
		a.Close()
		return nil, err
	}

	x, err := a402.New(verifier,
		a402.WithLogger(log),
		a402.WithMetrics(recorder),
		a402.WithTimeout(cfg.Verification.LedgerTimeout),
		a402.WithNonceTimeout(cfg.Verification.NonceTimeout),
		a402.WithRetry(cfg.Verification.RetryCount, cfg.Verification.RetryDelay),
		a402.WithBatchLimit(cfg.Verification.BatchLimit),
		a402.WithChallengeTTL(cfg.Storage.ChallengeTTL),
		a402.WithNonceLedger(a.nonces),
		a402.WithChallengeStore(a.challenges),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.a402 = x
	a.closers = append(a.closers, func() error { x.Close(); return nil })

	for name, nc := range cfg.Networks {
		if err := x.AddNetwork(ctx, types.Network(name), nc); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

// openStores builds the nonce ledger and challenge store for the configured
// backend. SQL backends keep both in one database.
func (a *app) openStores(ctx context.Context) error {
	s := a.cfg.Storage
	opts := []nonce.Option{nonce.WithGrace(s.Grace), nonce.WithLogger(a.log)}

	switch s.Type {
	case config.StoreMemory:
		l := nonce.NewMemoryLedger(opts...)
		if s.PruneInterval > 0 {
			l.Start(s.PruneInterval)
		}
		a.nonces = l
		a.challenges = challenge.NewMemoryStore()
		a.closers = append(a.closers, l.Close)
		return nil

	case config.StoreSQLite, config.StorePostgres:
		var (
			l   *nonce.SQLLedger
			d   storage.Dialect
			err error
		)
		if s.Type == config.StoreSQLite {
			if dir := filepath.Dir(s.SQLitePath); dir != "." {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("creating data directory: %w", err)
				}
			}
			l, err = nonce.NewSQLiteLedger(ctx, s.SQLitePath, opts...)
			d = storage.DialectSQLite
		} else {
			l, err = nonce.NewPostgresLedger(ctx, s.PostgresURL, opts...)
			d = storage.DialectPostgres
		}
		if err != nil {
			return fmt.Errorf("initializing nonce store: %w", err)
		}
		a.nonces = l
		a.closers = append(a.closers, l.Close)

		cs := challenge.NewSQLStore(l.DB(), d)
		if err := cs.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		a.challenges = cs
		return nil

	case config.StoreRedis:
		l, err := nonce.NewRedisLedger(ctx, s.Redis.Addr, s.Redis.Password, s.Redis.DB, opts...)
		if err != nil {
			return fmt.Errorf("initializing nonce store: %w", err)
		}
		a.nonces = l
		a.closers = append(a.closers, l.Close)

		a.log.Warn("redis backend keeps issued challenges in memory", nil)
		a.challenges = challenge.NewMemoryStore()
		return nil
	}

	return &types.A402Error{Code: types.ErrConfigError, Message: fmt.Sprintf("unknown storage type %q", s.Type)}
}

func (a *app) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", map[string]any{"error": err.Error()})
		}
	}
	a.closers = nil
	_ = a.log.Sync()
}
