// Package transcript implements the bounded-memory tail reader over a
// line-delimited JSON transcript (C6): it derives the latest token usage,
// session duration, and manual-compaction intent without ever loading the
// whole file into memory.
//
// Grounded on original_source/src/context_learning.rs's is_manual_compaction
// (the original's only tail-bounded reader) generalized to every transcript
// operation per spec.md §4.4/§9's "bounded tail reading" requirement — the
// original's calculate_context_usage/parse_duration read the whole file,
// which spec.md deliberately redesigns away (§9, P9).
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/hagan/claudia-statusline/internal/clock"
	"github.com/hagan/claudia-statusline/internal/models"
)

const (
	minSeekBytes            = 20 * 1024
	bytesPerLine            = 2 * 1024
	defaultTailLines        = 50
	defaultManualCheckLines = 5
)

// ContextUsage is the derived context-window usage for the current
// transcript, ready for the renderer's context bar. The four breakdown
// fields are the winning assistant entry's own usage block, not a sum
// across entries — they feed internal/learner's per-call observation and
// the stats engine's token accumulation.
type ContextUsage struct {
	MaxTotalTokens      uint64
	Percentage          float64
	InputTokens         uint64
	OutputTokens        uint64
	CacheReadTokens     uint64
	CacheCreationTokens uint64
}

// tailLines reads the last n logical lines of path using a bounded seek: it
// never reads more than max(minSeekBytes, n*bytesPerLine) bytes, discarding
// a partial leading line when the seek landed mid-file. Returns nil, nil
// for any condition spec.md §4.4 "Failure" classifies as "no data."
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil //nolint:nilerr // missing/unreadable file means "no data", not a failure
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return nil, nil //nolint:nilerr
	}

	readSize := int64(n) * bytesPerLine
	if readSize < minSeekBytes {
		readSize = minSeekBytes
	}
	startPos := info.Size() - readSize
	midFile := startPos > 0
	if startPos < 0 {
		startPos = 0
	}

	if _, err := f.Seek(startPos, io.SeekStart); err != nil {
		return nil, nil //nolint:nilerr
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	first := true
	for scanner.Scan() {
		if first && midFile {
			// Partial leading line from a mid-file seek; discard it.
			first = false
			continue
		}
		first = false
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// LatestTokenUsage implements latest_token_usage: the maximum total of
// input+output+cache_read+cache_creation among assistant messages carrying
// usage in the last bufferLines lines, as a percentage of contextWindow.
func LatestTokenUsage(path string, bufferLines int, contextWindow uint64) (*ContextUsage, error) {
	if bufferLines <= 0 {
		bufferLines = defaultTailLines
	}
	if contextWindow == 0 {
		contextWindow = 160_000
	}

	lines, err := tailLines(path, bufferLines)
	if err != nil || len(lines) == 0 {
		return nil, err
	}

	var maxTotal uint64
	var winner *models.Usage
	for _, line := range lines {
		entry, ok := parseEntry(line)
		if !ok || entry.Message.Role != "assistant" || entry.Message.Usage == nil {
			continue
		}
		total := usageTotal(entry.Message.Usage)
		if total > maxTotal {
			maxTotal = total
			winner = entry.Message.Usage
		}
	}
	if maxTotal == 0 || winner == nil {
		return nil, nil
	}

	percentage := 100.0 * float64(maxTotal) / float64(contextWindow)
	if percentage > 100.0 {
		percentage = 100.0
	}
	usage := &ContextUsage{MaxTotalTokens: maxTotal, Percentage: percentage}
	if winner.InputTokens != nil {
		usage.InputTokens = uint64(*winner.InputTokens)
	}
	if winner.OutputTokens != nil {
		usage.OutputTokens = uint64(*winner.OutputTokens)
	}
	if winner.CacheReadInputTokens != nil {
		usage.CacheReadTokens = uint64(*winner.CacheReadInputTokens)
	}
	if winner.CacheCreationInputTokens != nil {
		usage.CacheCreationTokens = uint64(*winner.CacheCreationInputTokens)
	}
	return usage, nil
}

// Duration implements duration: last_timestamp - first_timestamp in
// seconds, parsed via the tolerant RFC 3339 parser (both Z and explicit
// offsets). Returns nil if the two timestamps don't yield a positive
// duration.
func Duration(path string) (*uint64, error) {
	first, err := firstLine(path)
	if err != nil || first == "" {
		return nil, err
	}
	last, err := tailLines(path, 1)
	if err != nil || len(last) == 0 {
		return nil, err
	}

	firstEntry, ok1 := parseEntry(first)
	lastEntry, ok2 := parseEntry(last[0])
	if !ok1 || !ok2 {
		return nil, nil
	}

	firstTS, ok1 := clock.ParseRFC3339ToUnix(firstEntry.Timestamp)
	lastTS, ok2 := clock.ParseRFC3339ToUnix(lastEntry.Timestamp)
	if !ok1 || !ok2 {
		return nil, nil
	}
	if lastTS <= firstTS {
		return nil, nil
	}
	d := uint64(lastTS - firstTS)
	return &d, nil
}

// firstLine reads just enough of path to return its first complete line,
// without loading the whole file.
func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil //nolint:nilerr
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", nil
}

// ManualCompactionIntent implements manual_compaction_intent: scans the
// last checkLines lines for a user message containing one of the fixed
// compaction phrases.
func ManualCompactionIntent(path string, checkLines int) (bool, error) {
	entries, err := TailEntries(path, checkLines)
	if err != nil {
		return false, err
	}
	return HasManualPhrase(entries), nil
}

// TailEntries returns the parsed form of the last n lines, for callers
// (internal/learner) that need the same bounded tail to scan for manual-
// compaction intent without re-reading the file.
func TailEntries(path string, n int) ([]models.TranscriptEntry, error) {
	if n <= 0 {
		n = defaultManualCheckLines
	}
	lines, err := tailLines(path, n)
	if err != nil || len(lines) == 0 {
		return nil, err
	}
	var out []models.TranscriptEntry
	for _, line := range lines {
		if entry, ok := parseEntry(line); ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

var manualPhrases = []string{
	"/compact",
	"/summarize",
	"summarize our conversation",
	"summarize the conversation",
	"summarize this conversation",
	"compress the context",
	"reduce the context",
	"create a summary",
	"make a summary",
	"condense our conversation",
	"condense the conversation",
	"shorten the conversation",
	"compact the context",
}

// HasManualPhrase reports whether any user-authored entry in entries
// contains one of the fixed manual-compaction phrases. Exported so
// internal/learner can run the same check against a tail it already holds,
// without re-reading the transcript file.
func HasManualPhrase(entries []models.TranscriptEntry) bool {
	for _, entry := range entries {
		if entry.Message.Role != "user" {
			continue
		}
		content := models.ContentText(entry.Message.Content)
		if content == "" {
			continue
		}
		lower := bytes.ToLower([]byte(content))
		for _, phrase := range manualPhrases {
			if bytes.Contains(lower, []byte(phrase)) {
				return true
			}
		}
	}
	return false
}

func parseEntry(line string) (models.TranscriptEntry, bool) {
	var entry models.TranscriptEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return models.TranscriptEntry{}, false
	}
	return entry, true
}

func usageTotal(u *models.Usage) uint64 {
	var total uint64
	if u.InputTokens != nil {
		total += uint64(*u.InputTokens)
	}
	if u.OutputTokens != nil {
		total += uint64(*u.OutputTokens)
	}
	if u.CacheReadInputTokens != nil {
		total += uint64(*u.CacheReadInputTokens)
	}
	if u.CacheCreationInputTokens != nil {
		total += uint64(*u.CacheCreationInputTokens)
	}
	return total
}
