package timemath

import (
	"time"
)

func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func Seconds(duration time.Duration) float64 {
	return float64(duration) / float64(time.Second)
}

func Millis(duration time.Duration) int64 {
	return duration.Milliseconds()
}

func FromMillis(millis int64) time.Duration {
	return time.Duration(millis) * time.Millisecond
}

func Sgn(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

func Midpoint(x, y time.Duration) time.Duration {
	return x + (y-x)/2
}
