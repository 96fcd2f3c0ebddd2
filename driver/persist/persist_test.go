package persist_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/timeclock/core/offset"
	"example.com/timeclock/driver/persist"
)

func newFileStore(t *testing.T) *persist.FileStore {
	t.Helper()
	return &persist.FileStore{Path: filepath.Join(t.TempDir(), "offset.toml")}
}

func TestLoadAbsent(t *testing.T) {
	s := newFileStore(t)
	_, err := s.Load()
	if !errors.Is(err, offset.ErrNoRecord) {
		t.Errorf("Load on absent file: err = %v, want ErrNoRecord", err)
	}
}

func TestSaveLoad(t *testing.T) {
	s := newFileStore(t)

	rec := offset.Record{
		NetworkOffset:       200 * time.Millisecond,
		HasNetworkOffset:    true,
		ManualOffset:        -time.Minute,
		LastSyncAt:          time.Unix(1700000000, 0).UTC(),
		Uncertainty:         25 * time.Millisecond,
		ConsecutiveFailures: 2,
	}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != rec {
		t.Errorf("loaded record differs:\ngot  %+v\nwant %+v", got, rec)
	}
}

func TestSaveLoadWithoutNetworkOffset(t *testing.T) {
	s := newFileStore(t)

	rec := offset.Record{ManualOffset: 30 * time.Second}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.HasNetworkOffset {
		t.Errorf("HasNetworkOffset = true, want false")
	}
	if !got.LastSyncAt.IsZero() {
		t.Errorf("LastSyncAt = %v, want zero", got.LastSyncAt)
	}
	if got.ManualOffset != 30*time.Second {
		t.Errorf("ManualOffset = %v, want %v", got.ManualOffset, 30*time.Second)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := newFileStore(t)

	if err := s.Save(offset.Record{ManualOffset: time.Second}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(offset.Record{ManualOffset: 2 * time.Second}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ManualOffset != 2*time.Second {
		t.Errorf("ManualOffset = %v, want %v", got.ManualOffset, 2*time.Second)
	}

	// The atomic write leaves no temp files behind.
	entries, err := os.ReadDir(filepath.Dir(s.Path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want 1", len(entries))
	}
}

func TestLoadCorrupt(t *testing.T) {
	s := newFileStore(t)
	if err := os.WriteFile(s.Path, []byte("not toml {{{"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := s.Load()
	if err == nil || errors.Is(err, offset.ErrNoRecord) {
		t.Errorf("Load on corrupt file: err = %v, want decode error", err)
	}
}

func TestLoadUnknownField(t *testing.T) {
	s := newFileStore(t)
	data := "manual_offset_ms = 100\nconsecutive_failures = 0\nbogus_field = 1\n"
	if err := os.WriteFile(s.Path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Load(); err == nil {
		t.Errorf("expected error for unknown field")
	}
}
