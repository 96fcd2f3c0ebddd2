package offset

import (
	"errors"
	"sync"
	"sync/atomic"

	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/timeclock/base/metrics"
	"example.com/timeclock/core/client"
	"example.com/timeclock/core/timebase"
)

// Store is the single owner of the mutable offset record. Reads
// return snapshots; writers hold the lock only for the in-memory
// mutation, never during persistence I/O.
type Store struct {
	log                *zap.Logger
	persister          Persister // may be nil
	stalenessThreshold int

	mu  sync.Mutex
	rec Record

	// saveMu serializes persister writes; see saveLatest.
	saveMu sync.Mutex
}

type storeMetrics struct {
	writes prometheus.Counter
	errors prometheus.Counter
}

var mtrcs atomic.Pointer[storeMetrics]

func init() {
	mtrcs.Store(&storeMetrics{
		writes: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.PersistWritesN,
			Help: metrics.PersistWritesH,
		}),
		errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.PersistErrorsN,
			Help: metrics.PersistErrorsH,
		}),
	})
}

// NewStore creates a store seeded from the persister. An absent or
// unreadable record is replaced by defaults; persistence problems are
// never fatal.
func NewStore(log *zap.Logger, persister Persister, stalenessThreshold int) *Store {
	if stalenessThreshold <= 0 {
		panic("staleness threshold must be positive")
	}
	s := &Store{
		log:                log,
		persister:          persister,
		stalenessThreshold: stalenessThreshold,
	}
	if persister != nil {
		rec, err := persister.Load()
		switch {
		case err == nil:
			s.rec = rec
		case errors.Is(err, ErrNoRecord):
			log.Info("no persisted offset record, starting from defaults")
		default:
			log.Warn("failed to load offset record, starting from defaults", zap.Error(err))
		}
	}
	return s
}

// Read returns a snapshot of the current record.
func (s *Store) Read() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// StalenessThreshold reports the configured consecutive-failure limit.
func (s *Store) StalenessThreshold() int {
	return s.stalenessThreshold
}

// ApplySync records a successful measurement: it sets the network
// offset and uncertainty, timestamps the sync, and resets the failure
// count.
func (s *Store) ApplySync(m client.Measurement) {
	now := timebase.Now()
	s.update(func(rec *Record) {
		rec.NetworkOffset = m.Offset
		rec.HasNetworkOffset = true
		rec.Uncertainty = m.Uncertainty
		rec.LastSyncAt = now
		rec.ConsecutiveFailures = 0
	})
}

// ApplySyncFailure records a failed sync attempt. The previous
// network offset is kept (stale beats absent) until the failure count
// exceeds the staleness threshold, at which point it is discarded.
func (s *Store) ApplySyncFailure(err error) {
	var cleared bool
	s.update(func(rec *Record) {
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures > s.stalenessThreshold && rec.HasNetworkOffset {
			rec.NetworkOffset = 0
			rec.HasNetworkOffset = false
			rec.Uncertainty = 0
			cleared = true
		}
	})
	if cleared {
		s.log.Warn("network offset discarded as stale", zap.Error(err))
	}
}

// ApplyManual overwrites the manual offset. It always succeeds.
func (s *Store) ApplyManual(d time.Duration) {
	s.update(func(rec *Record) {
		rec.ManualOffset = d
	})
}

// Flush writes the current record through the persister. Mutations
// already save eagerly; Flush exists for shutdown and for retrying
// after persistence failures.
func (s *Store) Flush() error {
	if s.persister == nil {
		return nil
	}
	return s.saveLatest()
}

func (s *Store) update(f func(*Record)) {
	s.mu.Lock()
	f(&s.rec)
	s.mu.Unlock()

	if s.persister != nil {
		_ = s.saveLatest()
	}
}

// saveLatest serializes persister writes and re-reads the record
// under the save lock, so a save racing a later mutation can never
// put a stale snapshot on disk after a newer one.
func (s *Store) saveLatest() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.save(s.Read())
}

func (s *Store) save(rec Record) error {
	m := mtrcs.Load()
	err := s.persister.Save(rec)
	if err != nil {
		m.errors.Inc()
		s.log.Warn("failed to persist offset record, continuing in memory", zap.Error(err))
		return err
	}
	m.writes.Inc()
	return nil
}
