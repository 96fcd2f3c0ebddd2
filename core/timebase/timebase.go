package timebase

import (
	"sync/atomic"
	"time"
)

// LocalClock is the process's view of the local system clock. The
// engine never steps or slews it; it only reads it and adds offsets
// on top.
type LocalClock interface {
	Now() time.Time
	Sleep(duration time.Duration)
}

var lclk atomic.Value

func RegisterClock(c LocalClock) {
	if c == nil {
		panic("local clock must not be nil")
	}
	swapped := lclk.CompareAndSwap(nil, c)
	if !swapped {
		panic("local clock already registered")
	}
}

func Now() time.Time {
	c := lclk.Load().(LocalClock)
	if c == nil {
		panic("no local clock registered")
	}
	return c.Now()
}
