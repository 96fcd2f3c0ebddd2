// Package persist stores the offset record as a small TOML file. The
// file is written atomically (temp file plus rename) so a crash never
// leaves a torn record behind.
package persist

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"example.com/timeclock/base/timemath"
	"example.com/timeclock/core/offset"
)

type FileStore struct {
	Path string
}

var _ offset.Persister = (*FileStore)(nil)

type offsetRecord struct {
	NetworkOffsetMillis *int64 `toml:"network_offset_ms,omitempty"`
	ManualOffsetMillis  int64  `toml:"manual_offset_ms"`
	LastSyncUnixMillis  *int64 `toml:"last_sync_unix_ms,omitempty"`
	UncertaintyMillis   *int64 `toml:"uncertainty_ms,omitempty"`
	ConsecutiveFailures int    `toml:"consecutive_failures"`
}

func (s *FileStore) Load() (offset.Record, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return offset.Record{}, offset.ErrNoRecord
		}
		return offset.Record{}, err
	}
	var fr offsetRecord
	err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&fr)
	if err != nil {
		return offset.Record{}, err
	}

	rec := offset.Record{
		ManualOffset:        timemath.FromMillis(fr.ManualOffsetMillis),
		ConsecutiveFailures: fr.ConsecutiveFailures,
	}
	if fr.NetworkOffsetMillis != nil {
		rec.NetworkOffset = timemath.FromMillis(*fr.NetworkOffsetMillis)
		rec.HasNetworkOffset = true
	}
	if fr.LastSyncUnixMillis != nil {
		rec.LastSyncAt = time.UnixMilli(*fr.LastSyncUnixMillis).UTC()
	}
	if fr.UncertaintyMillis != nil {
		rec.Uncertainty = timemath.FromMillis(*fr.UncertaintyMillis)
	}
	return rec, nil
}

func (s *FileStore) Save(rec offset.Record) error {
	fr := offsetRecord{
		ManualOffsetMillis:  timemath.Millis(rec.ManualOffset),
		ConsecutiveFailures: rec.ConsecutiveFailures,
	}
	if rec.HasNetworkOffset {
		v := timemath.Millis(rec.NetworkOffset)
		fr.NetworkOffsetMillis = &v
		u := timemath.Millis(rec.Uncertainty)
		fr.UncertaintyMillis = &u
	}
	if !rec.LastSyncAt.IsZero() {
		v := rec.LastSyncAt.UnixMilli()
		fr.LastSyncUnixMillis = &v
	}

	raw, err := toml.Marshal(fr)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".offset-*.toml")
	if err != nil {
		return err
	}
	_, err = tmp.Write(raw)
	if err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	err = os.Rename(tmp.Name(), s.Path)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
