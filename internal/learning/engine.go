package learning

import (
	"sort"

	"github.com/spots-social/ai2ai/internal/persona"
)

// #region apply-action
// ApplyAction computes the next dimension and confidence vectors from a typed
// action. Pure: the input profile is never mutated, no I/O, no clock reads.
// Dimensions without an observation keep both value and confidence unchanged.
func ApplyAction(profile persona.Profile, action Action, config Config) Result {
	dims := profile.Dimensions   // copy (value type)
	conf := profile.Confidence   // copy
	deltas := map[persona.Dimension]float64{}

	switch meta := action.Meta.(type) {
	case SpotVisit:
		if meta.EnergyLevel != nil {
			deltas[persona.EnergyPreference] = (clamp01(*meta.EnergyLevel) - 0.5) * config.EnergySensitivity
		}
		if meta.PriceLevel != nil {
			// High prices push value orientation down: bargain hunters score high.
			deltas[persona.ValueOrientation] = (0.5 - clamp01(*meta.PriceLevel)) * config.ValueSensitivity
		}
		if meta.CrowdLevel != nil {
			deltas[persona.CrowdTolerance] = (clamp01(*meta.CrowdLevel) - 0.5) * config.CrowdSensitivity
		}
		if meta.RepeatVisit != nil {
			step := config.NoveltyStep
			if *meta.RepeatVisit {
				step = -step
			}
			deltas[persona.NoveltySeeking] = step
		}
	case EventAttend:
		if meta.EnergyLevel != nil {
			deltas[persona.EnergyPreference] = (clamp01(*meta.EnergyLevel) - 0.5) * config.EnergySensitivity
		}
		if meta.CrowdLevel != nil {
			deltas[persona.CrowdTolerance] = (clamp01(*meta.CrowdLevel) - 0.5) * config.CrowdSensitivity
		}
		if meta.WithGroup != nil {
			step := config.CommunityStep
			if !*meta.WithGroup {
				step = -step
			}
			deltas[persona.CommunityOrientation] = step
		}
	case ListSave:
		if meta.CurationScore != nil {
			deltas[persona.CurationTendency] = (clamp01(*meta.CurationScore) - 0.5) * config.CurationSensitivity
		}
	case PeerInfluence:
		for d, delta := range meta.Deltas {
			if d < 0 || d >= persona.NumDimensions {
				continue
			}
			deltas[d] = delta * config.PeerInfluenceScale
		}
	}

	touched := make([]persona.Dimension, 0, len(deltas))
	for d, delta := range deltas {
		dims[d] = clamp01(dims[d] + delta)
		conf[d] = clamp01(conf[d] + config.BaseConfidenceIncrease)
		touched = append(touched, d)
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })

	return Result{
		Dimensions: dims,
		Confidence: conf,
		Deltas:     deltas,
		Touched:    touched,
	}
}

// #endregion apply-action

// #region helpers
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
