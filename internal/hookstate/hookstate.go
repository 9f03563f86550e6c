// Package hookstate implements the per-session hook state machine (C8):
// ephemeral cross-process signalling between the host tool's
// pre-compaction/stop hooks and the renderer.
//
// Grounded on original_source/src/state.rs: same file layout
// (state-<session_id>.json under the cache directory), same sanitizer
// rules, same 120s staleness TTL, same atomic write and corrupt-file
// auto-delete-on-read behavior.
package hookstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hagan/claudia-statusline/internal/errs"
)

// StaleTimeout is the TTL after which a state file is treated as absent
// and deleted on read (spec.md I5/P7).
const StaleTimeout = 120 * time.Second

const maxSessionIDLength = 255

// State is the on-disk shape of one hook state file.
type State struct {
	State     string    `json:"state"`   // currently only "compacting"
	Trigger   string    `json:"trigger"` // "auto" | "manual"
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	PID       *int      `json:"pid,omitempty"`
}

// Store resolves hook state files under cacheDir.
type Store struct {
	CacheDir string
}

// New returns a Store rooted at cacheDir (the caller passes
// clock.CacheDir()'s result).
func New(cacheDir string) *Store {
	return &Store{CacheDir: cacheDir}
}

// SanitizeSessionID validates a session id per spec.md I5: non-empty,
// <= 255 chars, only [A-Za-z0-9._-], no "..", no path separators, no
// null bytes, no control characters.
func SanitizeSessionID(sessionID string) error {
	if sessionID == "" {
		return errs.Config("session id cannot be empty")
	}
	if len(sessionID) > maxSessionIDLength {
		return errs.Config("session id exceeds maximum length (255 characters)")
	}
	if strings.ContainsAny(sessionID, "/\\\x00") {
		return errs.Config("session id contains a path separator or null byte: " + sessionID)
	}
	if strings.Contains(sessionID, "..") {
		return errs.Config("session id contains directory traversal: " + sessionID)
	}
	for _, r := range sessionID {
		if r < 0x20 || r == 0x7f {
			return errs.Config("session id contains a control character")
		}
		if !isSafeChar(r) {
			return errs.Config("session id contains an unsafe character: " + sessionID)
		}
	}
	return nil
}

func isSafeChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	default:
		return false
	}
}

func (s *Store) pathFor(sessionID string) (string, error) {
	if err := SanitizeSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.CacheDir, "state-"+sessionID+".json"), nil
}

// ensureDir creates the cache directory with owner-only permissions
// (0o700), matching spec.md §4.5.
func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.CacheDir, 0o700); err != nil {
		return errs.OtherErr("cannot create cache directory", err)
	}
	return nil
}

// Write atomically persists state for the session named in state.SessionID.
// Returns an error without creating any file if the session id fails
// sanitization (spec.md §7 "Validation failure on a session_id").
func (s *Store) Write(state State) error {
	path, err := s.pathFor(state.SessionID)
	if err != nil {
		return err
	}
	if err := s.ensureDir(); err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return errs.JSONParse(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errs.IO(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.IO(err)
	}
	return nil
}

// Read returns the current state for sessionID, or found=false if absent,
// corrupt (deleted as a side effect), mismatched, or stale (deleted as a
// side effect, per I5/P7).
func (s *Store) Read(sessionID string, now time.Time) (state State, found bool) {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return State{}, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return State{}, false
	}

	var parsed State
	if err := json.Unmarshal(raw, &parsed); err != nil {
		_ = os.Remove(path)
		return State{}, false
	}

	if parsed.SessionID != sessionID {
		return State{}, false
	}

	if now.Sub(parsed.StartedAt) > StaleTimeout {
		_ = os.Remove(path)
		return State{}, false
	}

	return parsed, true
}

// Clear deletes the state file for sessionID if present; a missing file
// is not an error.
func (s *Store) Clear(sessionID string) error {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.IO(err)
	}
	return nil
}

// CleanupStale enumerates state-*.json files in the cache directory and
// attempts a Read on each by the session id embedded in its filename,
// which auto-deletes any stale or corrupt file as a side effect — the
// sweep spec.md §4.5 describes.
func (s *Store) CleanupStale(now time.Time) error {
	entries, err := os.ReadDir(s.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.IO(err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "state-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		sessionID := strings.TrimSuffix(strings.TrimPrefix(name, "state-"), ".json")
		s.Read(sessionID, now)
	}
	return nil
}
