// Package clock provides the current-timestamp, aggregate-key, and
// XDG-based path derivations shared across the engine, plus the string
// sanitization and path-security checks applied to externally controlled
// input before it reaches disk, a subprocess, or the terminal.
package clock

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/x/ansi"

	"github.com/hagan/claudia-statusline/internal/errs"
)

const appName = "claudia-statusline"

// NowRFC3339 returns the current local time formatted as RFC 3339.
func NowRFC3339() string { return time.Now().Format(time.RFC3339) }

// TodayAndMonth derives the day and month keys from the same instant
// within a single call so a session update can never straddle a day/month
// boundary inconsistently between the two keys.
func TodayAndMonth() (day string, month string) {
	now := time.Now()
	return now.Format("2006-01-02"), now.Format("2006-01")
}

// DataDir returns $XDG_DATA_HOME/<app>, falling back to
// $HOME/.local/share/<app>.
func DataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local/share")
}

// ConfigDir returns $XDG_CONFIG_HOME/<app>, falling back to
// $HOME/.config/<app>.
func ConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// CacheDir returns $XDG_CACHE_HOME/<app>, falling back to
// $HOME/.cache/<app>.
func CacheDir() (string, error) {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

func xdgDir(envVar, homeSuffix string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.OtherErr("cannot determine home directory", err)
	}
	return filepath.Join(home, homeSuffix, appName), nil
}

// ValidatePathSecurity rejects null bytes and canonicalizes the path,
// resolving symlinks and rejecting paths that don't exist.
func ValidatePathSecurity(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", errs.InvalidPath("path contains null bytes")
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errs.InvalidPath("cannot canonicalize path: " + path)
	}
	return real, nil
}

// SanitizeForTerminal strips control characters from str, leaving ANSI
// SGR escape sequences ("\x1b[...m") emitted by the renderer itself
// intact; it is applied to externally controlled strings (workspace
// path, device id, model name) before they are printed.
func SanitizeForTerminal(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == 0x1b && i+1 < len(runes) && runes[i+1] == '[' {
			end := i + 2
			for end < len(runes) && !isSGRTerminator(runes[end]) {
				end++
			}
			if end < len(runes) {
				b.WriteString(string(runes[i : end+1]))
				i = end
				continue
			}
			// Unterminated escape: drop the ESC and reprocess '['.
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isSGRTerminator(r rune) bool {
	return r >= 0x40 && r <= 0x7e
}

// VisibleWidth reports the rendered terminal width of s, counting wide
// runes as two columns and SGR escape sequences as zero — the same
// measurement the renderer needs before deciding whether the assembled
// line must be truncated for a fixed-width statusline segment.
func VisibleWidth(s string) int {
	return ansi.StringWidth(s)
}

// ShortenPath replaces a leading $HOME with "~", mirroring the
// abbreviation the renderer shows for the workspace directory.
func ShortenPath(path string) string {
	if path == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}

// ParseRFC3339ToUnix parses timestamps like "2025-08-22T18:32:37.789Z" or
// "2025-08-24T23:24:15.577606003-07:00" into a Unix timestamp. A pure
// arithmetic parser is unnecessary in Go since time.Parse with
// time.RFC3339Nano natively accepts both offset forms; this wraps it
// with the same tolerant boundary behavior (fractional seconds optional,
// both offset signs) documented in the source.
func ParseRFC3339ToUnix(timestamp string) (int64, bool) {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		t, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return 0, false
		}
	}
	return t.Unix(), true
}
