// Package learner implements the adaptive context-window learner (C7): it
// infers each model's real context ceiling from observed token totals and
// compaction events, maintaining a confidence score per spec.md §4.3/I4.
//
// Grounded on original_source/src/context_learning.rs's ContextLearner:
// same three constants (MIN_COMPACTION_TOKENS, COMPACTION_DROP_THRESHOLD,
// CEILING_VARIANCE_THRESHOLD), same compaction-vs-ceiling branching, same
// confidence formula. The persistence layer it drives is
// internal/store.LearnedWindow.
package learner

import (
	"context"
	"math"
	"time"

	"github.com/hagan/claudia-statusline/internal/models"
	"github.com/hagan/claudia-statusline/internal/store"
	"github.com/hagan/claudia-statusline/internal/transcript"
)

const (
	minCompactionTokens          = 150_000
	compactionDropThreshold      = 0.10
	ceilingVarianceThreshold     = 0.02
	compactionProximityThreshold = 0.95
	firstObservationCeiling      = 190_000
)

// Learner observes per-update token totals and maintains the
// learned_context_windows table.
type Learner struct {
	store *store.Store
}

// New wraps a store for learner operations.
func New(s *store.Store) *Learner {
	return &Learner{store: s}
}

// Observation is one call's worth of input to Observe.
type Observation struct {
	ModelName      string
	CurrentTokens  uint64
	PreviousTokens *uint64
	TranscriptTail []models.TranscriptEntry // already-loaded tail lines, for manual-compaction scanning
	WorkspaceDir   string
	DeviceID       string
	Now            time.Time
}

// Observe implements spec.md §4.3's observe_usage: detects a compaction
// event, updates the ceiling observation, and recomputes confidence, all
// against the canonicalized model name.
func (l *Learner) Observe(ctx context.Context, obs Observation) error {
	canonical := models.CanonicalModelName(obs.ModelName)

	existing, found, err := l.store.GetLearnedWindow(ctx, canonical)
	if err != nil {
		return err
	}
	observedMax := uint64(0)
	if found {
		observedMax = existing.ObservedMaxTokens
	}

	if obs.PreviousTokens != nil {
		prev := *obs.PreviousTokens
		if l.isCompactionEvent(obs.CurrentTokens, prev, observedMax, obs.TranscriptTail) {
			if err := l.recordCompaction(ctx, canonical, prev, obs.WorkspaceDir, obs.DeviceID, obs.Now); err != nil {
				return err
			}
		}
	}

	if obs.CurrentTokens > minCompactionTokens {
		if err := l.updateCeilingObservation(ctx, canonical, obs.CurrentTokens, obs.WorkspaceDir, obs.DeviceID, obs.Now); err != nil {
			return err
		}
	}

	return l.updateConfidence(ctx, canonical)
}

// isCompactionEvent mirrors context_learning.rs's is_compaction_event.
func (l *Learner) isCompactionEvent(current, previous, observedMax uint64, tail []models.TranscriptEntry) bool {
	if previous < minCompactionTokens {
		return false
	}
	if current >= previous {
		return false
	}
	dropPercent := float64(previous-current) / float64(previous)
	if dropPercent < compactionDropThreshold {
		return false
	}
	if hasManualCompactionIntent(tail) {
		return false
	}
	if observedMax > 0 {
		proximity := float64(previous) / float64(observedMax)
		return proximity >= compactionProximityThreshold
	}
	return previous >= firstObservationCeiling
}

func (l *Learner) recordCompaction(ctx context.Context, modelName string, observedMax uint64, workspaceDir, deviceID string, now time.Time) error {
	existing, found, err := l.store.GetLearnedWindow(ctx, modelName)
	if err != nil {
		return err
	}
	if found {
		existing.CompactionCount++
		if observedMax > existing.ObservedMaxTokens {
			existing.ObservedMaxTokens = observedMax
		}
		existing.LastObservedMax = observedMax
		existing.LastUpdated = now
		existing.WorkspaceDir = workspaceDir
		existing.DeviceID = deviceID
		return l.store.UpsertLearnedWindow(ctx, existing)
	}
	return l.store.UpsertLearnedWindow(ctx, store.LearnedWindow{
		ModelName:         modelName,
		ObservedMaxTokens: observedMax,
		CompactionCount:   1,
		LastObservedMax:   observedMax,
		LastUpdated:       now,
		FirstSeen:         now,
		WorkspaceDir:      workspaceDir,
		DeviceID:          deviceID,
	})
}

func (l *Learner) updateCeilingObservation(ctx context.Context, modelName string, current uint64, workspaceDir, deviceID string, now time.Time) error {
	existing, found, err := l.store.GetLearnedWindow(ctx, modelName)
	if err != nil {
		return err
	}
	if found {
		variance := 1.0
		if existing.ObservedMaxTokens > 0 {
			variance = math.Abs(float64(current)-float64(existing.ObservedMaxTokens)) / float64(existing.ObservedMaxTokens)
		}
		if variance <= ceilingVarianceThreshold {
			existing.CeilingObservations++
		}
		if current > existing.ObservedMaxTokens {
			existing.ObservedMaxTokens = current
		}
		existing.LastObservedMax = current
		existing.LastUpdated = now
		existing.WorkspaceDir = workspaceDir
		existing.DeviceID = deviceID
		return l.store.UpsertLearnedWindow(ctx, existing)
	}
	return l.store.UpsertLearnedWindow(ctx, store.LearnedWindow{
		ModelName:           modelName,
		ObservedMaxTokens:   current,
		CeilingObservations: 1,
		LastObservedMax:     current,
		LastUpdated:         now,
		FirstSeen:           now,
		WorkspaceDir:        workspaceDir,
		DeviceID:            deviceID,
	})
}

func (l *Learner) updateConfidence(ctx context.Context, modelName string) error {
	existing, found, err := l.store.GetLearnedWindow(ctx, modelName)
	if err != nil || !found {
		return err
	}
	confidence := Confidence(existing.CeilingObservations, existing.CompactionCount)
	if confidence == existing.ConfidenceScore {
		return nil
	}
	existing.ConfidenceScore = confidence
	return l.store.UpsertLearnedWindow(ctx, existing)
}

// Confidence implements I4/P5: min(1.0, min(0.1*c, 0.5) + min(0.3*k, 0.5)).
func Confidence(ceilingObservations, compactionCount int) float64 {
	ceilingTerm := math.Min(0.1*float64(ceilingObservations), 0.5)
	compactionTerm := math.Min(0.3*float64(compactionCount), 0.5)
	return math.Min(1.0, ceilingTerm+compactionTerm)
}

// GetLearnedWindow implements get_learned_window: returns observed_max_tokens
// iff a row exists and its confidence meets threshold.
func (l *Learner) GetLearnedWindow(ctx context.Context, modelName string, threshold float64) (tokens uint64, ok bool, err error) {
	canonical := models.CanonicalModelName(modelName)
	w, found, err := l.store.GetLearnedWindow(ctx, canonical)
	if err != nil || !found {
		return 0, false, err
	}
	if w.ConfidenceScore < threshold {
		return 0, false, nil
	}
	return w.ObservedMaxTokens, true, nil
}

// Reset clears one model's learned window (`context-learning --reset`).
func (l *Learner) Reset(ctx context.Context, modelName string) error {
	return l.store.DeleteLearnedWindow(ctx, models.CanonicalModelName(modelName))
}

// ResetAll clears every learned window (`context-learning --reset-all`).
func (l *Learner) ResetAll(ctx context.Context) error {
	return l.store.DeleteAllLearnedWindows(ctx)
}

// Rebuild replays every session with a recorded max_tokens_observed, in
// chronological order, re-invoking Observe for each — `context-learning
// --rebuild`. Existing learned windows are cleared first so the replay
// starts from a blank slate.
func (l *Learner) Rebuild(ctx context.Context) error {
	if err := l.ResetAll(ctx); err != nil {
		return err
	}
	observations, err := l.store.GetAllSessionTokenObservations(ctx)
	if err != nil {
		return err
	}
	sortByLastUpdated(observations)

	var prevByModel = map[string]uint64{}
	for _, o := range observations {
		if o.ModelName == "" || o.MaxTokensObserved == 0 {
			continue
		}
		canonical := models.CanonicalModelName(o.ModelName)
		var prev *uint64
		if v, ok := prevByModel[canonical]; ok {
			prevVal := v
			prev = &prevVal
		}
		if err := l.Observe(ctx, Observation{
			ModelName:      o.ModelName,
			CurrentTokens:  o.MaxTokensObserved,
			PreviousTokens: prev,
			WorkspaceDir:   o.WorkspaceDir,
			DeviceID:       o.DeviceID,
			Now:            o.LastUpdated,
		}); err != nil {
			return err
		}
		prevByModel[canonical] = o.MaxTokensObserved
	}
	return nil
}

func sortByLastUpdated(obs []store.SessionTokenObservation) {
	for i := 1; i < len(obs); i++ {
		for j := i; j > 0 && obs[j].LastUpdated.Before(obs[j-1].LastUpdated); j-- {
			obs[j], obs[j-1] = obs[j-1], obs[j]
		}
	}
}

// hasManualCompactionIntent scans already-loaded tail entries for a user
// message containing one of the fixed manual-compaction phrases.
func hasManualCompactionIntent(tail []models.TranscriptEntry) bool {
	return transcript.HasManualPhrase(tail)
}
