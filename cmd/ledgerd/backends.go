package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/config"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/logger"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/notify"
)

type idempotencyStore interface {
	idempotency.Store
	Counts(ctx context.Context) (map[idempotency.State]int64, error)
}

// backends holds the stores behind the engine. With no database_url every
// store is in memory, which is only suitable for local development.
type backends struct {
	pool        *pgxpool.Pool
	db          *sql.DB
	ledger      ledger.Store
	idempotency idempotencyStore
	audit       audit.Store
	queue       notify.Queue
}

func openBackends(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backends, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("database_url not set, using in-memory stores")
		size := cfg.NotifyQueueSize
		if size <= 0 {
			size = 1024
		}
		return &backends{
			ledger:      ledger.NewMemoryStore(),
			idempotency: idempotency.NewMemoryStore(),
			audit:       audit.NewInMemoryStore(),
			queue:       notify.NewMemoryQueue(size),
		}, nil
	}
	pool, err := openPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	return &backends{
		pool:        pool,
		db:          db,
		ledger:      ledger.NewPostgresStore(pool),
		idempotency: idempotency.NewPostgresStore(db),
		audit:       audit.NewPostgresStore(db),
		queue:       notify.NewPostgresQueue(db),
	}, nil
}

func openPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (b *backends) ready(ctx context.Context) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Ping(ctx)
}

func (b *backends) Close() {
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	return logger.NewWithConfig(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "ledgerd", Version: cfg.Version})
}

// notificationSink is where the dispatcher delivers: the webhook when
// configured, otherwise the log.
func notificationSink(cfg config.Config, log zerolog.Logger) notify.Notifier {
	if cfg.WebhookURL == "" {
		return notify.LogNotifier{Log: log}
	}
	return notify.WebhookNotifier{URL: cfg.WebhookURL, Secret: cfg.WebhookSecret, Client: &http.Client{Timeout: 10 * time.Second}}
}

func newEngine(cfg config.Config, b *backends, log zerolog.Logger) (*ledger.Engine, error) {
	rates, err := cfg.Rates()
	if err != nil {
		return nil, err
	}
	engine := ledger.NewEngine(b.ledger, clock.RealClock{}, ledger.Config{
		OTPExpiry:   cfg.OTPExpiry,
		ReaperGrace: cfg.ReaperGrace,
		Rates:       rates,
	})
	engine.AuditStore = b.audit
	engine.Log = log
	return engine, nil
}
