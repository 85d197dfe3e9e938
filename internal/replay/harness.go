package replay

import (
	"time"

	"github.com/spots-social/ai2ai/internal/drift"
	"github.com/spots-social/ai2ai/internal/learning"
	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/service"
)

// #region types
// Interaction represents a single recorded action for replay. Either Meta is
// set (a typed user action re-run through the learning engine) or Deltas is
// set (raw per-dimension deltas exported from the provenance log).
type Interaction struct {
	ID         string
	ActionType learning.ActionType
	OccurredAt time.Time
	Tags       []string
	Source     drift.Source
	Meta       learning.Metadata
	Deltas     map[persona.Dimension]float64
}

// ReplayConfig bundles learning and drift configs for a replay run.
type ReplayConfig struct {
	Learning learning.Config
	Drift    drift.Config
}

// ReplayResult captures the outcome of replaying one interaction.
type ReplayResult struct {
	ID       string
	Outcome  drift.Outcome
	Reason   string
	Decision drift.Decision
	Deltas   map[persona.Dimension]float64
}

// ReplaySummary aggregates a full replay run.
type ReplaySummary struct {
	TotalActions   int
	CoreCommits    int
	ContextUpdates int
	Resists        int
	FinalProfile   persona.Profile
}

// #endregion types

// #region replay
// Replay runs recorded interactions through the learning engine and drift
// classifier from a given start profile, returning the per-action results and
// the final working profile after all core commits. It is deterministic: same
// start, same interactions, same configs, same results. No storage is touched.
func Replay(start persona.Profile, interactions []Interaction, config ReplayConfig) ([]ReplayResult, persona.Profile) {
	classifier := drift.NewClassifier(config.Drift)
	current := start
	results := make([]ReplayResult, 0, len(interactions))

	for _, inter := range interactions {
		deltas, result := resolveDeltas(current, inter, config.Learning)

		contextID := contextFor(inter)
		decision := classifier.Classify(deltas, inter.Source, contextID, inter.OccurredAt)

		if decision.Outcome == drift.OutcomeCore {
			// Advance the working profile the way the service would commit.
			current.Dimensions = result.Dimensions
			current.Confidence = result.Confidence
		}
		if decision.Outcome != drift.OutcomeResist {
			for d, delta := range deltas {
				classifier.Record(drift.Change{Dimension: d, Delta: delta, Source: inter.Source, At: inter.OccurredAt})
			}
		}

		results = append(results, ReplayResult{
			ID:       inter.ID,
			Outcome:  decision.Outcome,
			Reason:   decision.Reason,
			Decision: decision,
			Deltas:   deltas,
		})
	}
	return results, current
}

// resolveDeltas produces the per-dimension deltas for one interaction, either
// by re-running the learning engine or by taking the recorded deltas as-is.
func resolveDeltas(current persona.Profile, inter Interaction, config learning.Config) (map[persona.Dimension]float64, learning.Result) {
	if inter.Meta != nil {
		action := learning.Action{
			Type:       inter.ActionType,
			OccurredAt: inter.OccurredAt,
			Tags:       inter.Tags,
			Meta:       inter.Meta,
		}
		result := learning.ApplyAction(current, action, config)
		return result.Deltas, result
	}

	// Raw deltas: apply them directly onto the current profile.
	result := learning.Result{
		Dimensions: current.Dimensions,
		Confidence: current.Confidence,
		Deltas:     inter.Deltas,
	}
	for d, delta := range inter.Deltas {
		result.Dimensions[d] += delta
	}
	result.Dimensions = result.Dimensions.Clamp()
	return inter.Deltas, result
}

// contextFor re-derives the active context exactly as the service did when
// the action was first recorded.
func contextFor(inter Interaction) string {
	if inter.Meta == nil {
		return ""
	}
	contextID, _ := service.ClassifyContext(learning.Action{
		Type:       inter.ActionType,
		OccurredAt: inter.OccurredAt,
		Tags:       inter.Tags,
		Meta:       inter.Meta,
	})
	return contextID
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, finalProfile persona.Profile) ReplaySummary {
	s := ReplaySummary{
		TotalActions: len(results),
		FinalProfile: finalProfile,
	}
	for _, r := range results {
		switch r.Outcome {
		case drift.OutcomeCore:
			s.CoreCommits++
		case drift.OutcomeContext:
			s.ContextUpdates++
		case drift.OutcomeResist:
			s.Resists++
		}
	}
	return s
}

// #endregion replay
