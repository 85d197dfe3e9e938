package drift

import (
	"math"
	"time"

	"github.com/spots-social/ai2ai/internal/persona"
)

// #region detect-transition
// DetectTransition scans the accepted-change history over the sliding window
// ending at now. It returns non-nil when core changes were numerous enough,
// low-velocity, and directionally consistent — the signature of an authentic
// life-phase shift rather than peer homogenization. A single large jump from
// one exchange never qualifies: peer-sourced entries are ignored and any
// change above MaxInstantJump disqualifies its dimension.
func (c *Classifier) DetectTransition(now time.Time) *TransitionMetrics {
	start := now.Add(-c.config.TransitionWindow)

	netDrift := make(map[persona.Dimension]float64)
	var total, agree, count int
	var magnitude float64
	for d, hist := range c.history {
		var pos, neg int
		var net float64
		for _, ch := range hist {
			if ch.At.Before(start) || ch.At.After(now) {
				continue
			}
			if ch.Source != SourceUser {
				continue
			}
			if math.Abs(ch.Delta) > c.config.MaxInstantJump {
				// Disqualify the whole dimension: jumps are not gradual drift.
				pos, neg, net = 0, 0, 0
				break
			}
			if ch.Delta > 0 {
				pos++
			} else if ch.Delta < 0 {
				neg++
			}
			net += ch.Delta
			magnitude += math.Abs(ch.Delta)
			count++
		}
		if pos+neg == 0 {
			continue
		}
		total += pos + neg
		if pos > neg {
			agree += pos
		} else {
			agree += neg
		}
		if net != 0 {
			netDrift[d] = net
		}
	}

	if count < c.config.TransitionMinChanges || total == 0 {
		return nil
	}

	consistency := float64(agree) / float64(total)
	velocity := magnitude / c.config.TransitionWindow.Hours()
	authenticity := c.authenticity(velocity, consistency)

	if consistency <= c.config.ConsistencyThreshold || authenticity <= c.config.AuthenticityThreshold {
		return nil
	}

	return &TransitionMetrics{
		WindowStart:  start,
		WindowEnd:    now,
		NetDrift:     netDrift,
		Consistency:  consistency,
		Authenticity: authenticity,
		Changes:      count,
	}
}

// #endregion detect-transition
