package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"

	"bizledger/internal/app"
	"bizledger/internal/infrastructure/storage/postgres"
	"bizledger/pkg/logger"
)

const (
	lockKey = "bizledger:worker"
	// minLockTTL bounds the lock TTL for short tick intervals.
	minLockTTL = 30 * time.Second
)

// QuoteSweeper expires sent quotes past their validity and settles
// reservations left pending by an interrupted Reserve.
type QuoteSweeper interface {
	SweepExpired(ctx context.Context, tenantID string, now time.Time) (int, error)
	RecoverPending(ctx context.Context, tenantID string, now time.Time) (int, error)
}

type lockRefresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// BatchRelay delivers pending outbox messages.
type BatchRelay interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// Worker runs the periodic jobs. With Redis configured only one worker
// process performs a tick at a time.
type Worker struct {
	quotes    QuoteSweeper
	relay     BatchRelay
	locker    *redislock.Client
	tenants   func(ctx context.Context) ([]string, error)
	interval  time.Duration
	batchSize int
	now       func() time.Time
	log       *logger.Logger
}

// NewWorker wires a worker from the assembled ledger.
func NewWorker(a *app.App, log *logger.Logger) *Worker {
	w := &Worker{
		quotes:    a.Quotes,
		interval:  a.Config.Worker.Interval,
		batchSize: a.Config.Worker.BatchSize,
		now:       time.Now,
		log:       log.WithComponent("worker"),
	}

	if w.interval <= 0 {
		w.interval = time.Minute
	}

	configured := a.Config.Worker.Tenants
	w.tenants = func(context.Context) ([]string, error) { return configured, nil }

	if a.TxManager != nil {
		w.relay = postgres.NewOutboxRelay(a.TxManager, w.batchSize, postgres.LogHandler{})
		if len(configured) == 0 {
			w.tenants = func(ctx context.Context) ([]string, error) {
				return knownTenants(ctx, a.Pool)
			}
		}
	}
	if a.Redis != nil {
		w.locker = redislock.New(a.Redis)
	} else {
		w.log.Warn("redis not configured; running without the singleton lock")
	}
	return w
}

// knownTenants lists every tenant that owns a sequence counter.
func knownTenants(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT DISTINCT tenant_id FROM sys_sequences ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) lockTTL() time.Duration {
	return max(2*w.interval, minLockTTL)
}

// holdLock refreshes lock every half TTL until stop is called. A failed
// refresh means the lock may be held elsewhere, so the tick is cancelled.
func (w *Worker) holdLock(ctx context.Context, cancel context.CancelFunc, lock lockRefresher, ttl time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(ctx, ttl, nil); err != nil {
					w.log.Errorw("lost worker lock; abandoning tick", "error", err)
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (w *Worker) tick(ctx context.Context) {
	if w.locker != nil {
		ttl := w.lockTTL()
		lock, err := w.locker.Obtain(ctx, lockKey, ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			w.log.Debug("another worker holds the lock; skipping tick")
			return
		}
		if err != nil {
			w.log.Errorw("failed to obtain worker lock", "error", err)
			return
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				w.log.Warnw("failed to release worker lock", "error", err)
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := w.holdLock(ctx, cancel, lock, ttl)
		defer stop()
	}

	w.sweepQuotes(ctx)
	w.relayOutbox(ctx)
}

func (w *Worker) sweepQuotes(ctx context.Context) {
	tenants, err := w.tenants(ctx)
	if err != nil {
		w.log.Errorw("failed to list tenants", "error", err)
		return
	}

	now := w.now()
	for _, tenantID := range tenants {
		recovered, err := w.quotes.RecoverPending(ctx, tenantID, now)
		if err != nil {
			w.log.Errorw("pending reservation recovery failed", "tenant_id", tenantID, "error", err)
		} else if recovered > 0 {
			w.log.Warnw("settled stale pending reservations", "tenant_id", tenantID, "count", recovered)
		}

		expired, err := w.quotes.SweepExpired(ctx, tenantID, now)
		if err != nil {
			w.log.Errorw("quote sweep failed", "tenant_id", tenantID, "error", err)
			continue
		}
		if expired > 0 {
			w.log.Infow("expired quotes", "tenant_id", tenantID, "count", expired)
		}
	}
}

func (w *Worker) relayOutbox(ctx context.Context) {
	if w.relay == nil {
		return
	}
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			w.log.Errorw("outbox relay failed", "error", err)
			return
		}
		if n > 0 {
			w.log.Debugw("processed outbox batch", "count", n)
		}
		if n < w.batchSize {
			return
		}
	}
}
