package ntp

import (
	"errors"
	"time"
)

var (
	errResponseMetadata   = errors.New("unexpected response structure")
	errResponseTimestamps = errors.New("response timestamps not plausible")
	ErrKissOfDeath        = errors.New("authority rejected the request")
)

// ValidateResponseMetadata checks the fields of a server response
// that do not depend on timestamps. A stratum of 0 is a kiss-o'-death
// packet, i.e. an explicit rejection by the authority.
func ValidateResponseMetadata(resp *Packet) error {
	if resp.Stratum == 0 {
		return ErrKissOfDeath
	}
	if resp.LeapIndicator() == LeapIndicatorUnknown {
		return errResponseMetadata
	}
	if resp.Version() != 3 && resp.Version() != 4 {
		return errResponseMetadata
	}
	if resp.Mode() != ModeServer {
		return errResponseMetadata
	}
	if resp.Stratum > 15 {
		return errResponseMetadata
	}
	return nil
}

func ValidateResponseTimestamps(t0, t1, t2, t3 time.Time) error {
	if t3.Sub(t0) < 0 {
		return errResponseTimestamps
	}
	if t2.Sub(t1) < 0 {
		return errResponseTimestamps
	}
	return nil
}
