package wallclock_test

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/timeclock/core/client"
	"example.com/timeclock/core/offset"
	"example.com/timeclock/core/timebase"
	"example.com/timeclock/core/wallclock"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(d time.Duration) {
	c.advance(d)
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var tclk = &testClock{now: time.Unix(1700000000, 0).UTC()}

func TestMain(m *testing.M) {
	timebase.RegisterClock(tclk)
	os.Exit(m.Run())
}

const testInterval = 10 * time.Minute

func newClock(t *testing.T) (*wallclock.Clock, *offset.Store) {
	t.Helper()
	store := offset.NewStore(zap.NewNop(), nil, 3)
	return wallclock.New(store, func() time.Duration { return testInterval }), store
}

func TestNowWithoutAnyOffset(t *testing.T) {
	c, _ := newClock(t)
	if got, want := c.Now(), tclk.Now(); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}

func TestNowComposesOffsets(t *testing.T) {
	c, store := newClock(t)

	store.ApplySync(client.Measurement{Offset: 200 * time.Millisecond})
	store.ApplyManual(-time.Minute)

	want := tclk.Now().Add(200*time.Millisecond - time.Minute)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}

func TestNowManualOnly(t *testing.T) {
	c, store := newClock(t)
	store.ApplyManual(30 * time.Second)

	want := tclk.Now().Add(30 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}

func TestNowReflectsLatestManualOffset(t *testing.T) {
	c, store := newClock(t)

	for _, d := range []time.Duration{time.Second, -time.Second, 42 * time.Millisecond} {
		store.ApplyManual(d)
		want := tclk.Now().Add(d)
		if got := c.Now(); !got.Equal(want) {
			t.Errorf("after ApplyManual(%v): Now() = %v, want %v", d, got, want)
		}
	}
}

func TestHealthNeverSynced(t *testing.T) {
	c, _ := newClock(t)

	h := c.HealthStatus()
	if h.State != wallclock.StateStale {
		t.Errorf("state = %v, want %v", h.State, wallclock.StateStale)
	}
	if !h.LastSyncAt.IsZero() {
		t.Errorf("LastSyncAt = %v, want zero", h.LastSyncAt)
	}
}

func TestHealthSyncedThenStale(t *testing.T) {
	c, store := newClock(t)
	store.ApplySync(client.Measurement{Offset: time.Millisecond})

	if h := c.HealthStatus(); h.State != wallclock.StateSynced {
		t.Fatalf("state = %v, want %v", h.State, wallclock.StateSynced)
	}

	tclk.advance(testInterval + time.Second)

	h := c.HealthStatus()
	if h.State != wallclock.StateStale {
		t.Errorf("state = %v, want %v", h.State, wallclock.StateStale)
	}
	if h.Age < testInterval {
		t.Errorf("Age = %v, want at least %v", h.Age, testInterval)
	}
}

func TestHealthDegraded(t *testing.T) {
	c, store := newClock(t)
	store.ApplySync(client.Measurement{Offset: time.Millisecond})

	err := errors.New("transient")
	for i := 0; i != 4; i++ { // threshold is 3
		store.ApplySyncFailure(err)
	}

	h := c.HealthStatus()
	if h.State != wallclock.StateDegraded {
		t.Errorf("state = %v, want %v", h.State, wallclock.StateDegraded)
	}
	// The cleared network offset no longer contributes to Now.
	if got, want := c.Now(), tclk.Now(); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}
