package drift

import (
	"time"

	"github.com/spots-social/ai2ai/internal/persona"
)

// #region source
// Source says where a proposed change came from.
type Source string

const (
	SourceUser Source = "user" // direct first-party action
	SourcePeer Source = "peer" // AI2AI-derived influence
)

// #endregion source

// #region outcome
// Outcome is the classification of a proposed change.
type Outcome string

const (
	OutcomeCore    Outcome = "core"    // stable layer, committed to the timeline
	OutcomeContext Outcome = "context" // bounded overlay, never overwrites core
	OutcomeResist  Outcome = "resist"  // rejected drift, logged only
)

// #endregion outcome

// #region change
// Change is one accepted dimension delta, kept in the rolling history.
type Change struct {
	Dimension persona.Dimension
	Delta     float64
	Source    Source
	At        time.Time
}

// #endregion change

// #region config
// Config holds classifier thresholds.
type Config struct {
	AuthenticityThreshold float64       // accept peer influence above this
	ConsistencyThreshold  float64       // directional agreement required
	AdaptationWeightCap   float64       // max context overlay blend weight
	MaxDriftFromCore      float64       // per-dimension cap on overlay distance from core
	MaxVelocityPerHour    float64       // delta magnitude per hour considered calm
	MaxInstantJump        float64       // single-change magnitude that always resists (peer)
	HistoryWindow         int           // retained changes per dimension
	TransitionWindow      time.Duration // sliding window for life-phase detection
	TransitionMinChanges  int           // minimum accepted core changes in window
}

// DefaultConfig returns the documented thresholds.
func DefaultConfig() Config {
	return Config{
		AuthenticityThreshold: 0.7,
		ConsistencyThreshold:  0.6,
		AdaptationWeightCap:   0.4,
		MaxDriftFromCore:      0.30,
		MaxVelocityPerHour:    0.05,
		MaxInstantJump:        0.3,
		HistoryWindow:         30,
		TransitionWindow:      90 * 24 * time.Hour,
		TransitionMinChanges:  6,
	}
}

// #endregion config

// #region decision
// Decision is the output of Classify.
type Decision struct {
	Outcome      Outcome
	Authenticity float64
	Consistency  float64
	Velocity     float64 // delta magnitude per hour
	Clamped      bool    // proposed values were defensively clamped
	Reason       string
}

// #endregion decision

// #region transition-metrics
// TransitionMetrics describes an authentic life-phase transition candidate.
type TransitionMetrics struct {
	WindowStart  time.Time
	WindowEnd    time.Time
	NetDrift     map[persona.Dimension]float64
	Consistency  float64
	Authenticity float64
	Changes      int
}

// #endregion transition-metrics
