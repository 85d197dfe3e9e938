package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/spots-social/ai2ai/internal/trust"
)

// #region admission
// Admission runs the 3-gate exchange pipeline:
//  1. Gate 1 — Trust: refuse known peers below the trust floor
//  2. Gate 2 — Compatibility: refuse peers whose vibe alignment is too low
//  3. Gate 3 — Cooldown: refuse peers exchanged with too recently
type Admission struct {
	trust  *trust.Store
	config Config

	mu           sync.Mutex
	lastExchange map[string]time.Time
}

// NewAdmission creates an Admission with the given trust store and config.
func NewAdmission(store *trust.Store, config Config) *Admission {
	return &Admission{
		trust:        store,
		config:       config,
		lastExchange: make(map[string]time.Time),
	}
}

// #endregion admission

// #region evaluate
// Evaluate runs all three gates for a peer fingerprint.
func (a *Admission) Evaluate(fingerprint string, compatibility float64, now time.Time) (Decision, error) {
	result := Decision{}

	// Gate 1: trust (skipped when AlwaysExchange is set)
	if !a.config.AlwaysExchange {
		peer, known, err := a.trust.Get(fingerprint)
		if err != nil {
			return result, fmt.Errorf("gate1 trust lookup: %w", err)
		}
		switch {
		case !known && !a.config.AllowFirstContact:
			result.Reason = "gate1: unknown peer and first contact disabled"
			return result, nil
		case known && peer.Score < a.config.MinTrustScore:
			result.Reason = fmt.Sprintf("gate1: trust %.3f < floor %.3f", peer.Score, a.config.MinTrustScore)
			return result, nil
		}
	}
	result.Gate1Passed = true

	// Gate 2: compatibility
	if !a.config.AlwaysExchange && compatibility < a.config.MinCompatibility {
		result.Reason = fmt.Sprintf("gate2: compatibility %.3f < floor %.3f", compatibility, a.config.MinCompatibility)
		return result, nil
	}
	result.Gate2Passed = true

	// Gate 3: cooldown always applies
	a.mu.Lock()
	last, seen := a.lastExchange[fingerprint]
	a.mu.Unlock()
	if seen && now.Sub(last) < a.config.Cooldown {
		result.Reason = fmt.Sprintf("gate3: last exchange %s ago, cooldown %s", now.Sub(last).Round(time.Second), a.config.Cooldown)
		return result, nil
	}
	result.Gate3Passed = true

	result.Allowed = true
	result.Reason = "admitted"
	return result, nil
}

// #endregion evaluate

// #region note-exchange
// NoteExchange records that an exchange with the peer just completed, arming
// the cooldown gate.
func (a *Admission) NoteExchange(fingerprint string, at time.Time) {
	a.mu.Lock()
	a.lastExchange[fingerprint] = at
	a.mu.Unlock()
}

// #endregion note-exchange
