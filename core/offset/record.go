package offset

import (
	"errors"
	"time"
)

// ErrNoRecord is returned by a Persister whose backing store holds no
// record yet.
var ErrNoRecord = errors.New("no offset record")

// Record is the engine's only persistent state: the last accepted
// network offset, the user's manual offset, and sync metadata.
// NetworkOffset is only meaningful while HasNetworkOffset is set; it
// is unset before the first successful sync and after the network
// offset has gone stale. ManualOffset is always present and is
// independent of sync outcome.
type Record struct {
	NetworkOffset       time.Duration
	HasNetworkOffset    bool
	ManualOffset        time.Duration
	LastSyncAt          time.Time // zero if never synced
	Uncertainty         time.Duration
	ConsecutiveFailures int
}

// Persister stores and retrieves the offset record. Load returns
// ErrNoRecord if nothing has been saved yet.
type Persister interface {
	Load() (Record, error)
	Save(Record) error
}
