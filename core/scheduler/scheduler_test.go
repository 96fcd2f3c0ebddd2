package scheduler_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/timeclock/core/client"
	"example.com/timeclock/core/offset"
	"example.com/timeclock/core/scheduler"
	"example.com/timeclock/core/timebase"
)

type systemTestClock struct{}

func (systemTestClock) Now() time.Time        { return time.Now().UTC() }
func (systemTestClock) Sleep(d time.Duration) { time.Sleep(d) }

func TestMain(m *testing.M) {
	timebase.RegisterClock(systemTestClock{})
	os.Exit(m.Run())
}

// fakeClient scripts query outcomes and can block in-flight queries
// until released.
type fakeClient struct {
	mu      sync.Mutex
	queries atomic.Int32
	gate    chan struct{} // if non-nil, Query blocks on it
	err     error
	meas    client.Measurement
}

func (c *fakeClient) Query(ctx context.Context) (client.Measurement, error) {
	c.queries.Add(1)
	c.mu.Lock()
	gate := c.gate
	meas, err := c.meas, c.err
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return client.Measurement{}, &client.QueryError{Reason: client.ReasonTimeout, Err: ctx.Err()}
		}
	}
	if err != nil {
		return client.Measurement{}, err
	}
	return meas, nil
}

func (c *fakeClient) set(meas client.Measurement, err error) {
	c.mu.Lock()
	c.meas, c.err = meas, err
	c.mu.Unlock()
}

func newTestScheduler(c client.TimeClient, interval time.Duration) (*scheduler.Scheduler, *offset.Store) {
	store := offset.NewStore(zap.NewNop(), nil, 4)
	s := scheduler.New(zap.NewNop(), c, store, scheduler.Options{
		Interval:    interval,
		Timeout:     time.Second,
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
	})
	return s, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestImmediateFirstSync(t *testing.T) {
	c := &fakeClient{}
	c.set(client.Measurement{Offset: 100 * time.Millisecond}, nil)
	s, store := newTestScheduler(c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return store.Read().HasNetworkOffset
	})
	rec := store.Read()
	if rec.NetworkOffset != 100*time.Millisecond {
		t.Errorf("NetworkOffset = %v, want %v", rec.NetworkOffset, 100*time.Millisecond)
	}
	if got := s.State(); got != scheduler.StateIdle {
		t.Errorf("state = %v, want %v", got, scheduler.StateIdle)
	}
	if n := c.queries.Load(); n != 1 {
		t.Errorf("queries = %d, want 1", n)
	}
}

func TestPeriodicResync(t *testing.T) {
	c := &fakeClient{}
	c.set(client.Measurement{Offset: time.Millisecond}, nil)
	s, _ := newTestScheduler(c, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return c.queries.Load() >= 3
	})
}

func TestFailureEntersBackoffWait(t *testing.T) {
	c := &fakeClient{}
	c.set(client.Measurement{}, &client.QueryError{Reason: client.ReasonNetworkUnreachable, Err: errors.New("no route")})
	s, store := newTestScheduler(c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return s.State() == scheduler.StateBackoffWait
	})
	if store.Read().ConsecutiveFailures == 0 {
		t.Errorf("failure not recorded in store")
	}

	// Backoff elapses and the scheduler retries on its own.
	waitFor(t, time.Second, func() bool {
		return c.queries.Load() >= 2
	})
}

func TestSuccessAfterFailuresResetsFailureCount(t *testing.T) {
	c := &fakeClient{}
	c.set(client.Measurement{}, &client.QueryError{Reason: client.ReasonTimeout})
	s, store := newTestScheduler(c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return store.Read().ConsecutiveFailures >= 2
	})
	c.set(client.Measurement{Offset: time.Millisecond}, nil)

	waitFor(t, time.Second, func() bool {
		rec := store.Read()
		return rec.HasNetworkOffset && rec.ConsecutiveFailures == 0
	})
	if got := s.State(); got != scheduler.StateIdle {
		t.Errorf("state = %v, want %v", got, scheduler.StateIdle)
	}
}

func TestResyncCoalescedWhileSyncing(t *testing.T) {
	gate := make(chan struct{})
	c := &fakeClient{gate: gate}
	c.set(client.Measurement{Offset: time.Millisecond}, nil)
	s, store := newTestScheduler(c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return s.State() == scheduler.StateSyncing
	})

	// Requests arriving while a query is in flight must not queue up.
	for i := 0; i != 5; i++ {
		s.RequestResync()
	}
	close(gate)

	waitFor(t, time.Second, func() bool {
		return store.Read().HasNetworkOffset
	})
	time.Sleep(50 * time.Millisecond)
	if n := c.queries.Load(); n != 1 {
		t.Errorf("queries = %d, want 1 (resync requests must coalesce)", n)
	}

	// A request arriving while idle does trigger a new query.
	c.mu.Lock()
	c.gate = nil
	c.mu.Unlock()
	s.RequestResync()
	waitFor(t, time.Second, func() bool {
		return c.queries.Load() == 2
	})
}

func TestShutdownAbandonsInFlightQuery(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	c := &fakeClient{gate: gate}
	c.set(client.Measurement{Offset: time.Millisecond}, nil)
	s, store := newTestScheduler(c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	waitFor(t, time.Second, func() bool {
		return s.State() == scheduler.StateSyncing
	})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
	// No partial result may be applied from the abandoned query.
	if store.Read().HasNetworkOffset {
		t.Errorf("abandoned query must not update the store")
	}
}

func TestSetIntervalReschedules(t *testing.T) {
	c := &fakeClient{}
	c.set(client.Measurement{Offset: time.Millisecond}, nil)
	s, _ := newTestScheduler(c, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return c.queries.Load() == 1
	})

	// Next sync was an hour out; shortening the interval reschedules it.
	s.SetInterval(10 * time.Millisecond)
	waitFor(t, time.Second, func() bool {
		return c.queries.Load() >= 2
	})
	if got := s.Interval(); got != 10*time.Millisecond {
		t.Errorf("Interval = %v, want %v", got, 10*time.Millisecond)
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	c := &fakeClient{}
	s, _ := newTestScheduler(c, time.Hour)

	b := s.NewBackoff()
	const maxDelay = 20 * time.Millisecond
	prev := time.Duration(0)
	sawCap := false
	for i := 0; i != 10; i++ {
		d, stop := b.Next()
		if stop {
			t.Fatalf("backoff stopped after %d steps", i)
		}
		if d < prev {
			t.Errorf("backoff decreased: %v after %v", d, prev)
		}
		if d > maxDelay {
			t.Errorf("backoff %v exceeds cap %v", d, maxDelay)
		}
		if d == maxDelay {
			sawCap = true
		}
		prev = d
	}
	if !sawCap {
		t.Errorf("backoff never reached its cap")
	}

	// A fresh backoff starts from the base again.
	d, _ := s.NewBackoff().Next()
	if d > 5*time.Millisecond {
		t.Errorf("fresh backoff starts at %v, want at most base", d)
	}
}
