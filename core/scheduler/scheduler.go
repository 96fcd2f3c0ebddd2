package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"

	"go.uber.org/zap"

	"example.com/timeclock/base/metrics"
	"example.com/timeclock/base/timemath"
	"example.com/timeclock/core/client"
	"example.com/timeclock/core/offset"
)

type State int32

const (
	StateIdle State = iota
	StateSyncing
	StateBackoffWait
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateBackoffWait:
		return "backoff wait"
	default:
		return "unknown"
	}
}

// Scheduler drives periodic time synchronization. It guarantees at
// most one in-flight query, coalesces manual resync requests that
// arrive while a query is running, and backs off exponentially after
// consecutive failures.
type Scheduler struct {
	log    *zap.Logger
	client client.TimeClient
	store  *offset.Store

	timeout     time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration

	state    atomic.Int32
	interval atomic.Int64 // nanoseconds

	resyncc   chan struct{}
	intervalc chan struct{}
}

type Options struct {
	Interval    time.Duration
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type schedulerMetrics struct {
	successes prometheus.Counter
	failures  prometheus.Counter
	offset    prometheus.Gauge
	backoff   prometheus.Gauge
}

var mtrcs atomic.Pointer[schedulerMetrics]

func init() {
	mtrcs.Store(&schedulerMetrics{
		successes: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncSuccessesN,
			Help: metrics.SyncSuccessesH,
		}),
		failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncFailuresN,
			Help: metrics.SyncFailuresH,
		}),
		offset: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncOffsetN,
			Help: metrics.SyncOffsetH,
		}),
		backoff: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncBackoffN,
			Help: metrics.SyncBackoffH,
		}),
	})
}

func New(log *zap.Logger, c client.TimeClient, store *offset.Store, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		panic("invalid sync interval")
	}
	if opts.Timeout <= 0 {
		panic("invalid sync timeout")
	}
	if opts.BackoffBase <= 0 || opts.BackoffCap < opts.BackoffBase {
		panic("invalid sync backoff")
	}
	s := &Scheduler{
		log:         log,
		client:      c,
		store:       store,
		timeout:     opts.Timeout,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		resyncc:     make(chan struct{}, 1),
		intervalc:   make(chan struct{}, 1),
	}
	s.interval.Store(int64(opts.Interval))
	return s
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval reschedules the periodic sync at the given interval,
// effective immediately unless a backoff delay is pending.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		panic("invalid sync interval")
	}
	s.interval.Store(int64(d))
	select {
	case s.intervalc <- struct{}{}:
	default:
	}
}

// RequestResync triggers a sync as soon as possible. Requests
// arriving while a query is already in flight are coalesced into it.
func (s *Scheduler) RequestResync() {
	select {
	case s.resyncc <- struct{}{}:
	default:
	}
}

// Run executes the sync loop until ctx is canceled. The first sync
// fires immediately.
func (s *Scheduler) Run(ctx context.Context) {
	m := mtrcs.Load()
	backoff := s.newBackoff()

	timer := time.NewTimer(0)
	defer timer.Stop()

	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.resyncc:
			stopTimer()
		case <-s.intervalc:
			if s.State() == StateBackoffWait {
				// The pending backoff delay still governs.
				continue
			}
			stopTimer()
			timer.Reset(s.Interval())
			continue
		}

		s.state.Store(int32(StateSyncing))
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		meas, err := s.client.Query(qctx)
		cancel()
		if ctx.Err() != nil {
			// Shutdown while the query was in flight; discard any
			// partial result.
			s.state.Store(int32(StateIdle))
			return
		}

		// Coalesce resync requests that arrived during the query.
		select {
		case <-s.resyncc:
		default:
		}

		if err == nil {
			s.store.ApplySync(meas)
			backoff = s.newBackoff()
			m.successes.Inc()
			m.offset.Set(timemath.Seconds(meas.Offset))
			m.backoff.Set(0)
			s.log.Info("clock synchronized",
				zap.Duration("offset", meas.Offset),
				zap.Duration("uncertainty", meas.Uncertainty),
			)
			s.state.Store(int32(StateIdle))
			timer.Reset(s.Interval())
			continue
		}

		s.store.ApplySyncFailure(err)
		d, _ := backoff.Next()
		var qe *client.QueryError
		if errors.As(err, &qe) && qe.RetryAfter > d {
			d = qe.RetryAfter
		}
		m.failures.Inc()
		m.backoff.Set(timemath.Seconds(d))
		s.log.Info("sync failed, backing off",
			zap.Duration("delay", d),
			zap.Error(err),
		)
		s.state.Store(int32(StateBackoffWait))
		timer.Reset(d)
	}
}

func (s *Scheduler) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(s.backoffCap, retry.NewExponential(s.backoffBase))
}
