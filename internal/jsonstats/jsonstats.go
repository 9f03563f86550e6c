// Package jsonstats is the secondary JSON view of accounting totals (C4):
// a dual-write backward-compatibility file guarded by an advisory
// exclusive file lock, written atomically (temp file + rename).
//
// Grounded on original_source/src/stats.rs's StatsData: same on-disk
// shape (version/created/last_updated/sessions/daily/monthly/all_time),
// same corrupt-file-backs-itself-up load() behavior, same atomic
// temp-file-then-rename save(). The relational store (internal/store) is
// authoritative; this package exists only for external tooling and the
// one-time import path (spec.md §4.2 "Secondary JSON file").
package jsonstats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hagan/claudia-statusline/internal/errs"
)

const schemaVersion = "1.0"

// SessionStats is one session's JSON-view row.
type SessionStats struct {
	LastUpdated  string  `json:"last_updated"`
	Cost         float64 `json:"cost"`
	LinesAdded   uint64  `json:"lines_added"`
	LinesRemoved uint64  `json:"lines_removed"`
	StartTime    string  `json:"start_time,omitempty"`
}

// DailyStats is one date's JSON-view row.
type DailyStats struct {
	TotalCost    float64  `json:"total_cost"`
	Sessions     []string `json:"sessions"`
	LinesAdded   uint64   `json:"lines_added"`
	LinesRemoved uint64   `json:"lines_removed"`
}

// MonthlyStats is one month's JSON-view row.
type MonthlyStats struct {
	TotalCost    float64 `json:"total_cost"`
	Sessions     int     `json:"sessions"`
	LinesAdded   uint64  `json:"lines_added"`
	LinesRemoved uint64  `json:"lines_removed"`
}

// AllTimeStats is the JSON view's lifetime singleton.
type AllTimeStats struct {
	TotalCost float64 `json:"total_cost"`
	Sessions  int     `json:"sessions"`
	Since     string  `json:"since"`
}

// Data is the full on-disk JSON document.
type Data struct {
	Version     string                  `json:"version"`
	Created     string                  `json:"created"`
	LastUpdated string                  `json:"last_updated"`
	Sessions    map[string]SessionStats `json:"sessions"`
	Daily       map[string]DailyStats   `json:"daily"`
	Monthly     map[string]MonthlyStats `json:"monthly"`
	AllTime     AllTimeStats            `json:"all_time"`
}

func newData(now time.Time) Data {
	nowStr := now.Format(time.RFC3339)
	return Data{
		Version:     schemaVersion,
		Created:     nowStr,
		LastUpdated: nowStr,
		Sessions:    map[string]SessionStats{},
		Daily:       map[string]DailyStats{},
		Monthly:     map[string]MonthlyStats{},
		AllTime:     AllTimeStats{Since: nowStr},
	}
}

// File wraps the stats.json path and guards every read/write with an
// advisory exclusive lock on a sibling "<path>.lock" file (the stats file
// itself is replaced by rename on every write).
type File struct {
	Path string
}

// New returns a File for path.
func New(path string) *File {
	return &File{Path: path}
}

// Load reads the JSON document, initializing a fresh default document if
// the file is absent. A file that exists but fails to parse is backed up
// to a timestamped <path>.backup_<YYYYMMDD_HHMMSS> sibling and replaced with a fresh default,
// matching spec.md §7 "Corrupt stats.json."
func (f *File) Load(now time.Time) (Data, error) {
	unlock, err := f.lock()
	if err != nil {
		return Data{}, err
	}
	defer unlock()
	return f.loadLocked(now)
}

func (f *File) loadLocked(now time.Time) (Data, error) {
	raw, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		data := newData(now)
		if err := f.writeLocked(data); err != nil {
			return data, err
		}
		return data, nil
	}
	if err != nil {
		return Data{}, errs.IO(err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		backupPath := f.Path + ".backup_" + now.Format("20060102_150405")
		_ = os.WriteFile(backupPath, raw, 0o600)
		fmt.Fprintln(os.Stderr, "warning: corrupt stats file backed up to", backupPath)
		data = newData(now)
		if err := f.writeLocked(data); err != nil {
			return data, err
		}
		return data, nil
	}
	return data, nil
}

// Save writes data atomically (temp file + rename) under the same
// exclusive lock used by Load, so a concurrent reader never observes a
// half-written file.
func (f *File) Save(data Data) error {
	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return f.writeLocked(data)
}

// Update runs one read-modify-write cycle while holding the exclusive
// lock for its whole duration, so concurrent updaters on the same file
// serialize on the entire cycle rather than interleaving between a Load
// and a Save.
func (f *File) Update(now time.Time, fn func(*Data)) error {
	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := f.loadLocked(now)
	if err != nil {
		return err
	}
	fn(&data)
	return f.writeLocked(data)
}

func (f *File) writeLocked(data Data) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.OtherErr("cannot create stats directory", err)
		}
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errs.JSONParse(err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errs.IO(err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return errs.IO(err)
	}
	return nil
}

// lock acquires an advisory exclusive OS-level lock (flock) on the sibling
// "<path>.lock" file, creating that lock file if absent, and returns a
// function that releases it.
// Lock acquisition is the one spec.md §5 names as a synchronous,
// blocking I/O wait point; it is not wrapped in the retry driver itself
// since flock blocks until acquired rather than failing transiently —
// the stats engine wraps each Update call (lock, read, modify, write) in
// its file_ops retry.Config for other transient failures.
func (f *File) lock() (func(), error) {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.OtherErr("cannot create stats directory", err)
		}
	}
	fh, err := os.OpenFile(f.Path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errs.LockFailed("cannot open lock file: " + err.Error())
	}
	if err := syscall.Flock(int(fh.Fd()), syscall.LOCK_EX); err != nil {
		fh.Close()
		return nil, errs.LockFailed("cannot acquire exclusive lock: " + err.Error())
	}
	return func() {
		_ = syscall.Flock(int(fh.Fd()), syscall.LOCK_UN)
		fh.Close()
	}, nil
}
