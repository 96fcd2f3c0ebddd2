// Package engine wires the offset store, sync scheduler and clock
// facade together and owns their lifecycle. Settings changes and
// display reads go through the Engine; the display path never touches
// the network client.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"example.com/timeclock/core/client"
	"example.com/timeclock/core/offset"
	"example.com/timeclock/core/scheduler"
	"example.com/timeclock/core/wallclock"
)

const (
	DefaultSyncInterval       = 10 * time.Minute
	DefaultQueryTimeout       = 5 * time.Second
	DefaultBackoffBase        = 5 * time.Second
	DefaultBackoffCap         = 5 * time.Minute
	DefaultStalenessThreshold = 8
)

type Config struct {
	Client    client.TimeClient
	Persister offset.Persister // nil disables persistence

	SyncInterval       time.Duration // default 10m
	QueryTimeout       time.Duration // default 5s
	BackoffBase        time.Duration // default 5s
	BackoffCap         time.Duration // default 5m
	StalenessThreshold int           // default 8
}

type Engine struct {
	log   *zap.Logger
	store *offset.Store
	sched *scheduler.Scheduler
	clock *wallclock.Clock

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(log *zap.Logger, cfg Config) *Engine {
	if cfg.Client == nil {
		panic("time client must not be nil")
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.StalenessThreshold == 0 {
		cfg.StalenessThreshold = DefaultStalenessThreshold
	}

	store := offset.NewStore(log, cfg.Persister, cfg.StalenessThreshold)
	sched := scheduler.New(log, cfg.Client, store, scheduler.Options{
		Interval:    cfg.SyncInterval,
		Timeout:     cfg.QueryTimeout,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	})
	return &Engine{
		log:   log,
		store: store,
		sched: sched,
		clock: wallclock.New(store, sched.Interval),
		done:  make(chan struct{}),
	}
}

// Start launches the background sync loop. The engine serves Now and
// HealthStatus from the persisted record even before the first sync
// completes.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		panic("engine already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go func() {
		defer close(e.done)
		e.sched.Run(ctx)
	}()
}

// Now returns the corrected time. Non-blocking; safe to call from the
// display tick path at any cadence.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

func (e *Engine) HealthStatus() wallclock.Health {
	return e.clock.HealthStatus()
}

// Record returns a snapshot of the current offset record.
func (e *Engine) Record() offset.Record {
	return e.store.Read()
}

func (e *Engine) SyncState() scheduler.State {
	return e.sched.State()
}

// SetManualOffset applies a user-supplied offset. Takes effect on the
// next Now call and is persisted immediately.
func (e *Engine) SetManualOffset(d time.Duration) {
	e.store.ApplyManual(d)
	e.log.Info("manual offset applied", zap.Duration("offset", d))
}

func (e *Engine) SetSyncInterval(d time.Duration) {
	e.sched.SetInterval(d)
	e.log.Info("sync interval changed", zap.Duration("interval", d))
}

func (e *Engine) ResyncNow() {
	e.sched.RequestResync()
}

// Shutdown stops the sync loop, abandoning any in-flight query, and
// flushes the offset record. It waits no longer than ctx allows.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.started.Load() {
		e.cancel()
		select {
		case <-e.done:
		case <-ctx.Done():
			e.log.Warn("shutdown timed out waiting for sync loop")
		}
	}
	return e.store.Flush()
}
