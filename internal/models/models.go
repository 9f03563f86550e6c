// Package models defines the JSON shapes exchanged with the host tool:
// the statusline's stdin input and the transcript's JSONL entries.
package models

import (
	"encoding/json"
	"regexp"
	"strings"
)

// StatuslineInput is the JSON object read from stdin.
type StatuslineInput struct {
	Workspace    *Workspace `json:"workspace,omitempty"`
	Model        *Model     `json:"model,omitempty"`
	SessionID    *string    `json:"session_id,omitempty"`
	TranscriptAlt *string   `json:"transcript_path,omitempty"`
	Transcript   *string    `json:"transcript,omitempty"`
	Cost         *Cost      `json:"cost,omitempty"`
}

// TranscriptPath resolves the "transcript"/"transcript_path" alias pair.
func (s *StatuslineInput) TranscriptPath() string {
	if s.Transcript != nil {
		return *s.Transcript
	}
	if s.TranscriptAlt != nil {
		return *s.TranscriptAlt
	}
	return ""
}

// UnmarshalJSON applies the transcript/transcript_path alias: whichever
// field is present in the payload populates Transcript.
func (s *StatuslineInput) UnmarshalJSON(data []byte) error {
	type alias StatuslineInput
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = StatuslineInput(a)
	if s.Transcript == nil && s.TranscriptAlt != nil {
		s.Transcript = s.TranscriptAlt
	}
	return nil
}

// Workspace carries the current working directory of the host tool.
type Workspace struct {
	CurrentDir *string `json:"current_dir,omitempty"`
}

// Model carries the display name of the active model.
type Model struct {
	DisplayName *string `json:"display_name,omitempty"`
}

// Cost carries the session's cumulative cost and line-change counters.
type Cost struct {
	TotalCostUSD      *float64 `json:"total_cost_usd,omitempty"`
	TotalLinesAdded   *uint64  `json:"total_lines_added,omitempty"`
	TotalLinesRemoved *uint64  `json:"total_lines_removed,omitempty"`
}

// TranscriptEntry is one JSONL line of a Claude transcript.
type TranscriptEntry struct {
	Message   TranscriptMessage `json:"message"`
	Timestamp string            `json:"timestamp"`
}

// TranscriptMessage is the "message" object within a TranscriptEntry.
type TranscriptMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
}

// Usage is the token-usage breakdown attached to an assistant message.
type Usage struct {
	InputTokens            *uint32 `json:"input_tokens,omitempty"`
	OutputTokens           *uint32 `json:"output_tokens,omitempty"`
	CacheReadInputTokens   *uint32 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens *uint32 `json:"cache_creation_input_tokens,omitempty"`
}

// ContentText flattens a transcript message's content, which may be a
// plain string or an array of {type, text} segments, into one string.
func ContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var segments []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		parts := make([]string, 0, len(segments))
		for _, seg := range segments {
			if seg.Text != "" {
				parts = append(parts, seg.Text)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// ModelBucket is the coarse family a display name maps onto before
// version-qualification.
type ModelBucket int

const (
	BucketOpus ModelBucket = iota
	BucketSonnet
	BucketHaiku
	BucketUnknown
)

func (b ModelBucket) String() string {
	switch b {
	case BucketOpus:
		return "Opus"
	case BucketSonnet:
		return "Sonnet"
	case BucketHaiku:
		return "Haiku"
	default:
		return "Unknown"
	}
}

var versionPattern = regexp.MustCompile(`(\d+)[.\-](\d+)`)

// BucketFromName classifies a raw display/API name into a coarse
// family, checking Opus before Sonnet before Haiku (matching the
// source's from_name precedence — "opus" wins even if other keywords
// are also present).
func BucketFromName(name string) ModelBucket {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "opus"):
		return BucketOpus
	case strings.Contains(lower, "sonnet"):
		return BucketSonnet
	case strings.Contains(lower, "haiku"):
		return BucketHaiku
	default:
		return BucketUnknown
	}
}

// CanonicalModelName maps a human or API-style model name onto the
// learner's stable label set, so equivalent models collapse to one row.
//
// Resolution of an ambiguity between spec.md's two example sets (§4.3
// shows "Sonnet 4.5, Opus 3.5, Haiku 4.5, Unknown"; §9 shows the closed
// set "Opus, Sonnet 3.5, Sonnet 4.5, Haiku, Unknown" with no
// version-qualified Opus/Haiku): both are instances of one rule — the
// bucket name is suffixed with a detected version token ("4.5", "3-5"
// normalized to "3.5", …) when the raw name carries one, and left bare
// otherwise. Sonnet is the one bucket original_source/src/models.rs
// defaults when no version is present ("Default to 3.5 for backward
// compatibility"), which is why it alone always carries a version
// suffix; Opus/Haiku only carry one when the caller supplied one. See
// DESIGN.md for the full writeup of this Open Question.
func CanonicalModelName(name string) string {
	bucket := BucketFromName(name)
	if bucket == BucketUnknown {
		return "Unknown"
	}
	version := detectVersion(name, bucket)
	if version == "" {
		if bucket == BucketSonnet {
			version = "3.5"
		} else {
			return bucket.String()
		}
	}
	return bucket.String() + " " + version
}

func detectVersion(name string, bucket ModelBucket) string {
	lower := strings.ToLower(name)
	if m := versionPattern.FindStringSubmatch(lower); m != nil {
		return m[1] + "." + m[2]
	}
	if bucket == BucketSonnet && strings.Contains(lower, "sonnet-4") {
		return "4.5"
	}
	return ""
}

// Abbreviation returns the short display label the renderer shows next
// to the workspace path, distinct from the learner's canonical key.
func Abbreviation(name string) string {
	switch BucketFromName(name) {
	case BucketOpus:
		return "Opus"
	case BucketSonnet:
		if strings.Contains(strings.ToLower(name), "4.5") || strings.Contains(strings.ToLower(name), "4-5") || strings.Contains(strings.ToLower(name), "sonnet-4") {
			return "S4.5"
		}
		return "S3.5"
	case BucketHaiku:
		return "Haiku"
	default:
		return "Claude"
	}
}
