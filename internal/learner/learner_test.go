package learner

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hagan/claudia-statusline/internal/models"
)

func TestConfidenceBounds(t *testing.T) {
	require.Equal(t, 0.0, Confidence(0, 0))
	require.Equal(t, 1.0, Confidence(5, 2)) // 0.5 + 0.5, saturates at cap
	require.InDelta(t, 0.3, Confidence(3, 0), 0.0001)
	require.InDelta(t, 0.3, Confidence(0, 1), 0.0001)
}

func TestConfidencePropertyAlwaysInUnitRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ceiling := rapid.IntRange(0, 1000).Draw(t, "ceilingObservations")
		compactions := rapid.IntRange(0, 1000).Draw(t, "compactionCount")
		c := Confidence(ceiling, compactions)
		require.GreaterOrEqual(t, c, 0.0)
		require.LessOrEqual(t, c, 1.0)
	})
}

func TestConfidenceMonotonicInCeilingObservations(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(0, 1000).Draw(t, "compactionCount")
		c1 := rapid.IntRange(0, 999).Draw(t, "c1")
		c2 := rapid.IntRange(c1, 1000).Draw(t, "c2")
		require.LessOrEqual(t, Confidence(c1, k), Confidence(c2, k))
	})
}

func TestIsCompactionEventRequiresMinimumPrevious(t *testing.T) {
	l := &Learner{}
	require.False(t, l.isCompactionEvent(1000, 140_000, 0, nil))
}

func TestIsCompactionEventRequiresDrop(t *testing.T) {
	l := &Learner{}
	// current >= previous: no drop, not a compaction.
	require.False(t, l.isCompactionEvent(200_000, 180_000, 0, nil))
	// Drop under the 10% threshold: not a compaction.
	require.False(t, l.isCompactionEvent(175_000, 180_000, 0, nil))
}

func TestIsCompactionEventIgnoresManualIntent(t *testing.T) {
	l := &Learner{}
	tail := []models.TranscriptEntry{
		{Message: models.TranscriptMessage{Role: "user", Content: []byte(`"/compact"`)}},
	}
	require.False(t, l.isCompactionEvent(50_000, 195_000, 0, tail))
}

func TestIsCompactionEventFirstObservationThreshold(t *testing.T) {
	l := &Learner{}
	// No observedMax yet; previous must clear the first-observation ceiling.
	require.True(t, l.isCompactionEvent(50_000, 195_000, 0, nil))
	require.False(t, l.isCompactionEvent(50_000, 160_000, 0, nil))
}

func TestIsCompactionEventProximityToCeiling(t *testing.T) {
	l := &Learner{}
	// previous close enough to the learned ceiling counts as compaction.
	require.True(t, l.isCompactionEvent(100_000, 190_000, 195_000, nil))
	// previous far from the learned ceiling does not.
	require.False(t, l.isCompactionEvent(100_000, 160_000, 300_000, nil))
}
