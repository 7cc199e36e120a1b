package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/stretchr/testify/assert"

	"bizledger/pkg/logger"
)

type fakeSweeper struct {
	calls     map[string]time.Time
	recovered []string
	fail      string
}

func (f *fakeSweeper) RecoverPending(_ context.Context, tenantID string, _ time.Time) (int, error) {
	f.recovered = append(f.recovered, tenantID)
	return 0, nil
}

func (f *fakeSweeper) SweepExpired(_ context.Context, tenantID string, now time.Time) (int, error) {
	f.calls[tenantID] = now
	if tenantID == f.fail {
		return 0, errors.New("boom")
	}
	return 1, nil
}

type fakeRelay struct {
	batches []int
	calls   int
}

func (f *fakeRelay) ProcessBatch(context.Context) (int, error) {
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func newTestWorker(sweeper QuoteSweeper, relay BatchRelay, tenants ...string) *Worker {
	log, _ := logger.New(logger.Config{Level: "error"})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Worker{
		quotes:    sweeper,
		relay:     relay,
		tenants:   func(context.Context) ([]string, error) { return tenants, nil },
		interval:  time.Minute,
		batchSize: 10,
		now:       func() time.Time { return fixed },
		log:       log,
	}
}

func TestWorkerTick_SweepsEveryTenant(t *testing.T) {
	sweeper := &fakeSweeper{calls: map[string]time.Time{}, fail: "beta"}
	w := newTestWorker(sweeper, nil, "acme", "beta", "gamma")

	w.tick(context.Background())

	assert.Len(t, sweeper.calls, 3)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), sweeper.calls["gamma"])
	assert.Equal(t, []string{"acme", "beta", "gamma"}, sweeper.recovered)
}

func TestWorkerTick_DrainsOutboxUntilShortBatch(t *testing.T) {
	relay := &fakeRelay{batches: []int{10, 10, 3, 10}}
	w := newTestWorker(&fakeSweeper{calls: map[string]time.Time{}}, relay)

	w.tick(context.Background())

	assert.Equal(t, 3, relay.calls)
}

type fakeLock struct {
	refreshes atomic.Int32
	err       error
}

func (f *fakeLock) Refresh(context.Context, time.Duration, *redislock.Options) error {
	f.refreshes.Add(1)
	return f.err
}

func TestWorkerLockTTL_OutlivesInterval(t *testing.T) {
	w := newTestWorker(&fakeSweeper{calls: map[string]time.Time{}}, nil)
	assert.Equal(t, 2*time.Minute, w.lockTTL())

	w.interval = time.Second
	assert.Equal(t, minLockTTL, w.lockTTL())
}

func TestWorkerHoldLock_RefreshesWhileTickRuns(t *testing.T) {
	w := newTestWorker(&fakeSweeper{calls: map[string]time.Time{}}, nil)
	lock := &fakeLock{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := w.holdLock(ctx, cancel, lock, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return lock.refreshes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	stop()

	assert.NoError(t, ctx.Err())
}

func TestWorkerHoldLock_LostLockCancelsTick(t *testing.T) {
	w := newTestWorker(&fakeSweeper{calls: map[string]time.Time{}}, nil)
	lock := &fakeLock{err: redislock.ErrNotObtained}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := w.holdLock(ctx, cancel, lock, 20*time.Millisecond)
	defer stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("tick context not cancelled after failed refresh")
	}
	assert.Equal(t, int32(1), lock.refreshes.Load())
}
