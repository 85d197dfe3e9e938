package drift

import (
	"fmt"
	"math"
	"time"

	"github.com/spots-social/ai2ai/internal/persona"
)

// #region classifier
// Classifier decides whether proposed personality changes belong to the core
// layer, a bounded context overlay, or get resisted as drift. It keeps a
// rolling per-dimension history of accepted changes; classification itself is
// pure over that history (no I/O, no blocking).
type Classifier struct {
	config  Config
	history map[persona.Dimension][]Change
}

// NewClassifier creates a classifier with the given configuration.
func NewClassifier(config Config) *Classifier {
	return &Classifier{
		config:  config,
		history: make(map[persona.Dimension][]Change),
	}
}

// #endregion classifier

// #region classify
// Classify evaluates a set of proposed deltas at time now.
//
// User-sourced changes are never resisted: they are core when no context is
// active, context otherwise. Peer-sourced changes must look authentic — low
// velocity and directionally consistent with recent history — to land as a
// bounded context overlay; anything fast or erratic is resisted. Out-of-range
// input is clamped first rather than treated as an error.
func (c *Classifier) Classify(proposed map[persona.Dimension]float64, source Source, activeContext string, now time.Time) Decision {
	proposed, clamped := clampDeltas(proposed)

	if len(proposed) == 0 {
		return Decision{Outcome: OutcomeResist, Clamped: clamped, Reason: "no valid dimensions in proposal"}
	}

	velocity := c.velocity(proposed, now)
	consistency := c.consistency(proposed)
	authenticity := c.authenticity(velocity, consistency)

	if source == SourceUser {
		outcome := OutcomeCore
		reason := "first-party action"
		if activeContext != "" {
			outcome = OutcomeContext
			reason = fmt.Sprintf("first-party action within context %q", activeContext)
		}
		return Decision{
			Outcome:      outcome,
			Authenticity: authenticity,
			Consistency:  consistency,
			Velocity:     velocity,
			Clamped:      clamped,
			Reason:       reason,
		}
	}

	// Peer-sourced from here on.
	for d, delta := range proposed {
		if math.Abs(delta) > c.config.MaxInstantJump {
			return Decision{
				Outcome:      OutcomeResist,
				Authenticity: authenticity,
				Consistency:  consistency,
				Velocity:     velocity,
				Clamped:      clamped,
				Reason:       fmt.Sprintf("instant jump %.3f on %s exceeds %.2f", delta, d, c.config.MaxInstantJump),
			}
		}
	}

	if authenticity > c.config.AuthenticityThreshold && consistency > c.config.ConsistencyThreshold {
		return Decision{
			Outcome:      OutcomeContext,
			Authenticity: authenticity,
			Consistency:  consistency,
			Velocity:     velocity,
			Clamped:      clamped,
			Reason:       fmt.Sprintf("authentic peer influence: auth=%.3f cons=%.3f", authenticity, consistency),
		}
	}

	return Decision{
		Outcome:      OutcomeResist,
		Authenticity: authenticity,
		Consistency:  consistency,
		Velocity:     velocity,
		Clamped:      clamped,
		Reason:       fmt.Sprintf("drift resisted: auth=%.3f cons=%.3f vel=%.4f/h", authenticity, consistency, velocity),
	}
}

// #endregion classify

// #region record
// Record adds an accepted change to the rolling history. The service calls
// this only after the change was durably committed, keeping history and
// storage in step.
func (c *Classifier) Record(change Change) {
	hist := append(c.history[change.Dimension], change)
	if max := c.config.HistoryWindow; max > 0 && len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	c.history[change.Dimension] = hist
}

// History returns the retained changes for one dimension, oldest first.
func (c *Classifier) History(d persona.Dimension) []Change {
	out := make([]Change, len(c.history[d]))
	copy(out, c.history[d])
	return out
}

// SelfAssessment scores how authentic the identity's own recent history
// looks: directionally consistent, unhurried change. This is the
// authenticity_score presented to peers. Neutral 0.5 with no history.
func (c *Classifier) SelfAssessment(now time.Time) float64 {
	net := make(map[persona.Dimension]float64)
	for d, hist := range c.history {
		for _, ch := range hist {
			net[d] += ch.Delta
		}
	}
	if len(net) == 0 {
		return 0.5
	}
	velocity := c.velocity(net, now)
	consistency := c.consistency(net)
	return c.authenticity(velocity, consistency)
}

// #endregion record

// #region scoring
// velocity computes proposed magnitude per hour since the last accepted
// change to the same dimension set. A cold dimension contributes calm.
func (c *Classifier) velocity(proposed map[persona.Dimension]float64, now time.Time) float64 {
	var magnitude float64
	last := time.Time{}
	for d, delta := range proposed {
		magnitude += math.Abs(delta)
		if hist := c.history[d]; len(hist) > 0 {
			if at := hist[len(hist)-1].At; at.After(last) {
				last = at
			}
		}
	}
	if last.IsZero() {
		// No prior change: treat as one full window of calm.
		return magnitude / float64(c.config.HistoryWindow)
	}
	hours := now.Sub(last).Hours()
	if hours < time.Minute.Hours() {
		hours = time.Minute.Hours()
	}
	return magnitude / hours
}

// consistency is the fraction of recent accepted changes to the proposed
// dimensions that share the proposal's direction.
func (c *Classifier) consistency(proposed map[persona.Dimension]float64) float64 {
	var agree, total int
	for d, delta := range proposed {
		for _, ch := range c.history[d] {
			if ch.Delta == 0 {
				continue
			}
			total++
			if (ch.Delta > 0) == (delta > 0) {
				agree++
			}
		}
	}
	if total == 0 {
		// No history to contradict: neutral midpoint.
		return 0.5
	}
	return float64(agree) / float64(total)
}

// authenticity blends low velocity with high consistency.
func (c *Classifier) authenticity(velocity, consistency float64) float64 {
	calm := 1 - velocity/c.config.MaxVelocityPerHour
	if calm < 0 {
		calm = 0
	} else if calm > 1 {
		calm = 1
	}
	return 0.5*calm + 0.5*consistency
}

// #endregion scoring

// #region overlay-bound
// BoundOverlay caps an overlay's blend weight and keeps every adapted
// dimension within MaxDriftFromCore of the core value.
func (c *Classifier) BoundOverlay(core persona.Vector, ov persona.ContextOverlay) persona.ContextOverlay {
	if ov.AdaptationWeight > c.config.AdaptationWeightCap {
		ov.AdaptationWeight = c.config.AdaptationWeightCap
	}
	if ov.AdaptationWeight < 0 {
		ov.AdaptationWeight = 0
	}
	for i := range ov.Adapted {
		lo := core[i] - c.config.MaxDriftFromCore
		hi := core[i] + c.config.MaxDriftFromCore
		if ov.Adapted[i] < lo {
			ov.Adapted[i] = lo
		} else if ov.Adapted[i] > hi {
			ov.Adapted[i] = hi
		}
	}
	ov.Adapted = ov.Adapted.Clamp()
	return ov
}

// #endregion overlay-bound

// #region helpers
// clampDeltas drops unknown dimensions and bounds each delta to [-1, 1].
func clampDeltas(proposed map[persona.Dimension]float64) (map[persona.Dimension]float64, bool) {
	out := make(map[persona.Dimension]float64, len(proposed))
	clamped := false
	for d, delta := range proposed {
		if d < 0 || d >= persona.NumDimensions {
			clamped = true
			continue
		}
		if math.IsNaN(delta) {
			clamped = true
			continue
		}
		if delta > 1 {
			delta = 1
			clamped = true
		} else if delta < -1 {
			delta = -1
			clamped = true
		}
		out[d] = delta
	}
	return out, clamped
}

// #endregion helpers
