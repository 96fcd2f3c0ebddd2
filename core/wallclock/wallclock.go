// Package wallclock composes the corrected wall-clock time served to
// the display: local system time plus the last accepted network
// offset plus the user's manual offset. It reads only the offset
// store and the local clock; it never performs I/O.
package wallclock

import (
	"fmt"
	"time"

	"example.com/timeclock/core/offset"
	"example.com/timeclock/core/timebase"
)

type HealthState int

const (
	StateSynced HealthState = iota
	StateStale
	StateDegraded
)

func (s HealthState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateStale:
		return "stale"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Health is the sole channel through which sync failures reach the
// display layer.
type Health struct {
	State      HealthState
	LastSyncAt time.Time // zero if never synced
	Age        time.Duration
}

func (h Health) String() string {
	switch h.State {
	case StateSynced:
		return "synced"
	case StateStale:
		if h.LastSyncAt.IsZero() {
			return "never synced"
		}
		return fmt.Sprintf("last synced %s ago", h.Age.Round(time.Second))
	default:
		return "sync degraded"
	}
}

// Clock is the only interface the display tick path talks to.
type Clock struct {
	store *offset.Store

	// IntervalFn reports the current sync interval; a sync older than
	// one interval makes the clock stale.
	intervalFn func() time.Duration
}

func New(store *offset.Store, intervalFn func() time.Duration) *Clock {
	if store == nil {
		panic("offset store must not be nil")
	}
	if intervalFn == nil {
		panic("interval function must not be nil")
	}
	return &Clock{store: store, intervalFn: intervalFn}
}

// Now returns the corrected time: the local clock reading taken now,
// adjusted by the network offset (zero if absent) and the manual
// offset from a single consistent snapshot.
func (c *Clock) Now() time.Time {
	rec := c.store.Read()
	t := timebase.Now()
	if rec.HasNetworkOffset {
		t = t.Add(rec.NetworkOffset)
	}
	return t.Add(rec.ManualOffset)
}

// HealthStatus derives the sync health from the store snapshot:
// Degraded once consecutive failures exceed the staleness threshold,
// Synced while within one sync interval of the last success, Stale
// otherwise.
func (c *Clock) HealthStatus() Health {
	rec := c.store.Read()
	now := timebase.Now()

	var age time.Duration
	if !rec.LastSyncAt.IsZero() {
		age = now.Sub(rec.LastSyncAt)
	}

	h := Health{LastSyncAt: rec.LastSyncAt, Age: age}
	switch {
	case rec.ConsecutiveFailures > c.store.StalenessThreshold():
		h.State = StateDegraded
	case !rec.LastSyncAt.IsZero() && age <= c.intervalFn():
		h.State = StateSynced
	default:
		h.State = StateStale
	}
	return h
}
