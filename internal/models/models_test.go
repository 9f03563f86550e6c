package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatuslineInput_EmptyJSON(t *testing.T) {
	var in StatuslineInput
	require.NoError(t, json.Unmarshal([]byte(`{}`), &in))
	require.Nil(t, in.Workspace)
	require.Nil(t, in.Model)
	require.Nil(t, in.Cost)
}

func TestStatuslineInput_CompleteJSON(t *testing.T) {
	raw := `{
		"workspace": {"current_dir": "/home/user"},
		"model": {"display_name": "Claude Sonnet"},
		"session_id": "abc123",
		"cost": {"total_cost_usd": 2.50, "total_lines_added": 200, "total_lines_removed": 100}
	}`
	var in StatuslineInput
	require.NoError(t, json.Unmarshal([]byte(raw), &in))
	require.Equal(t, "/home/user", *in.Workspace.CurrentDir)
	require.Equal(t, "Claude Sonnet", *in.Model.DisplayName)
	require.Equal(t, "abc123", *in.SessionID)
	require.Equal(t, 2.50, *in.Cost.TotalCostUSD)
}

func TestStatuslineInput_TranscriptAlias(t *testing.T) {
	var in1 StatuslineInput
	require.NoError(t, json.Unmarshal([]byte(`{"transcript":"/a.jsonl"}`), &in1))
	require.Equal(t, "/a.jsonl", in1.TranscriptPath())

	var in2 StatuslineInput
	require.NoError(t, json.Unmarshal([]byte(`{"transcript_path":"/b.jsonl"}`), &in2))
	require.Equal(t, "/b.jsonl", in2.TranscriptPath())
}

func TestStatuslineInput_EmptyCostObject(t *testing.T) {
	var in StatuslineInput
	require.NoError(t, json.Unmarshal([]byte(`{"session_id":"s","cost":{}}`), &in))
	require.NotNil(t, in.Cost)
	require.Nil(t, in.Cost.TotalCostUSD)
}

func TestContentText_String(t *testing.T) {
	require.Equal(t, "hello", ContentText(json.RawMessage(`"hello"`)))
}

func TestContentText_SegmentArray(t *testing.T) {
	raw := json.RawMessage(`[{"type":"text","text":"foo"},{"type":"text","text":"bar"}]`)
	require.Equal(t, "foo bar", ContentText(raw))
}

func TestContentText_Empty(t *testing.T) {
	require.Equal(t, "", ContentText(nil))
}

func TestBucketFromName(t *testing.T) {
	require.Equal(t, BucketOpus, BucketFromName("Claude Opus"))
	require.Equal(t, BucketOpus, BucketFromName("claude-3-opus-20240229"))
	require.Equal(t, BucketSonnet, BucketFromName("Claude 3.5 Sonnet"))
	require.Equal(t, BucketSonnet, BucketFromName("Claude Sonnet 4.5"))
	require.Equal(t, BucketHaiku, BucketFromName("Claude Haiku"))
	require.Equal(t, BucketUnknown, BucketFromName("Unknown Model"))
}

func TestCanonicalModelName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Claude Sonnet 4.5", "Sonnet 4.5"},
		{"Claude 4.5 Sonnet", "Sonnet 4.5"},
		{"claude-sonnet-4-5", "Sonnet 4.5"},
		{"Claude 3.5 Sonnet", "Sonnet 3.5"},
		{"Claude Sonnet", "Sonnet 3.5"},
		{"Claude Opus", "Opus"},
		{"Claude Opus 3.5", "Opus 3.5"},
		{"Claude Haiku", "Haiku"},
		{"Claude Haiku 4.5", "Haiku 4.5"},
		{"gibberish", "Unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CanonicalModelName(tt.name), tt.name)
	}
}

func TestCanonicalModelName_CaseInsensitiveDeduplication(t *testing.T) {
	require.Equal(t, CanonicalModelName("CLAUDE SONNET 4.5"), CanonicalModelName("claude sonnet 4.5"))
}

func TestAbbreviation(t *testing.T) {
	require.Equal(t, "Opus", Abbreviation("Claude Opus"))
	require.Equal(t, "S3.5", Abbreviation("Claude 3.5 Sonnet"))
	require.Equal(t, "S4.5", Abbreviation("Claude Sonnet 4.5"))
	require.Equal(t, "Haiku", Abbreviation("Claude Haiku"))
	require.Equal(t, "Claude", Abbreviation("Unknown Model"))
}
