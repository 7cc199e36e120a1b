// Package app assembles the ledger services from configuration. It is shared
// by the server, worker and seed binaries.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bizledger/internal/config"
	corenumerator "bizledger/internal/core/numerator"
	"bizledger/internal/core/tx"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/domain/events"
	"bizledger/internal/domain/numbering"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/domain/reservation"
	"bizledger/internal/infrastructure/numerator"
	"bizledger/internal/infrastructure/storage/memory"
	"bizledger/internal/infrastructure/storage/postgres"
	"bizledger/internal/infrastructure/storage/postgres/document_repo"
	"bizledger/internal/infrastructure/storage/postgres/register_repo"
	"bizledger/pkg/logger"
)

// App holds the wired services and the connections they depend on.
type App struct {
	Config *config.Config

	Numbering *numbering.Service
	Stock     *stock.Service
	Quotes    *quote.Service
	Invoices  *invoice.Service
	Audit     audit.Reader

	// Pool and TxManager are nil with the memory storage backend.
	Pool      *postgres.Pool
	TxManager *postgres.TxManager

	// Redis is nil unless REDIS_ADDR is configured.
	Redis *redis.Client

	closers []func()
}

// repositories is the storage half of the wiring, selected by STORAGE_BACKEND.
type repositories struct {
	txm       tx.Manager
	stock     stock.Repository
	quotes    quote.Repository
	invoices  invoice.Repository
	recorder  audit.Recorder
	history   audit.Reader
	publisher events.Publisher
	sequences corenumerator.Store
	degraded  numbering.DegradedLog
}

// New connects to the configured backends and builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	repos, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.Enabled() {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })

		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}
	if cfg.Sequences.Backend == config.BackendRedis {
		repos.sequences = numerator.NewRedisStore(a.Redis)
	}

	numberOpts := numbering.DefaultOptions()
	numberOpts.RetryBudget = cfg.Sequences.RetryBudget
	numberOpts.DegradedFallback = cfg.Sequences.DegradedFallback

	a.Numbering = numbering.NewService(repos.sequences, repos.degraded, repos.txm, repos.publisher, numberOpts)
	a.Audit = repos.history
	a.Stock = stock.NewService(repos.stock, repos.txm)
	a.Invoices = invoice.NewService(repos.invoices, a.Numbering, repos.txm, repos.recorder, repos.publisher, invoice.DefaultOptions())
	a.Quotes = quote.NewService(
		repos.quotes,
		a.Numbering,
		reservation.NewCoordinator(a.Stock, reservation.Policy(cfg.Ledger.ReservationPolicy)),
		a.Invoices,
		repos.txm,
		repos.recorder,
		repos.publisher,
		quote.Options{Validity: cfg.Ledger.QuoteValidity},
	)

	logger.Default().Infow("ledger assembled",
		"storage", cfg.Ledger.Storage,
		"sequences", cfg.Sequences.Backend,
		"reservation_policy", cfg.Ledger.ReservationPolicy,
		"degraded_fallback", cfg.Sequences.DegradedFallback,
	)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (*repositories, error) {
	if a.Config.Ledger.Storage == config.BackendMemory {
		mem := memory.New()
		return &repositories{
			txm:       mem,
			stock:     mem.Stock(),
			quotes:    mem.Quotes(),
			invoices:  mem.Invoices(),
			recorder:  mem.Audit(),
			history:   mem.Audit(),
			publisher: mem.Outbox(),
			sequences: mem.Sequences(),
			degraded:  mem.DegradedLog(),
		}, nil
	}

	poolCfg := postgres.DefaultPoolConfig(a.Config.Postgres.URL)
	poolCfg.MaxConns = int32(a.Config.Postgres.MaxConns)
	poolCfg.MinConns = int32(a.Config.Postgres.MinConns)

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	a.TxManager = postgres.NewTxManager(pool)

	recorder, err := postgres.NewAuditService(a.TxManager, a.Config.Ledger.AuditCompressionThreshold)
	if err != nil {
		return nil, err
	}

	txm := a.TxManager
	return &repositories{
		txm:       txm,
		stock:     register_repo.NewStockRepo(txm),
		quotes:    document_repo.NewQuoteRepo(txm),
		invoices:  document_repo.NewInvoiceRepo(txm),
		recorder:  recorder,
		history:   recorder,
		publisher: postgres.NewOutboxPublisher(txm),
		sequences: numerator.NewPostgresStore(func(ctx context.Context) numerator.Querier {
			return txm.GetQuerier(ctx)
		}),
		// Degraded records are written outside the failing transaction.
		degraded: numerator.NewPostgresDegradedLog(func(context.Context) numerator.Querier {
			return pool
		}),
	}, nil
}

// Migrate applies the PostgreSQL schema. It is a no-op for the memory backend.
func (a *App) Migrate(ctx context.Context) error {
	if a.TxManager == nil {
		return nil
	}
	return postgres.Migrate(ctx, a.TxManager)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
