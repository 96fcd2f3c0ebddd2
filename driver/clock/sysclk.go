package clock

import (
	"time"

	"go.uber.org/zap"

	"example.com/timeclock/base/zaplog"
	"example.com/timeclock/core/timebase"
)

// SystemClock reads the operating system's wall clock. All corrected
// time values are derived from it; it is never adjusted.
type SystemClock struct {
	Log *zap.Logger // optional; zaplog.Logger() if nil
}

var _ timebase.LocalClock = (*SystemClock)(nil)

func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *SystemClock) Sleep(duration time.Duration) {
	log := c.Log
	if log == nil {
		log = zaplog.Logger()
	}
	log.Debug("SystemClock.Sleep", zap.Duration("duration", duration))
	time.Sleep(duration)
}
