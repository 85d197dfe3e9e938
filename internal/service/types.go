package service

import (
	"errors"
	"time"

	"github.com/spots-social/ai2ai/internal/drift"
	"github.com/spots-social/ai2ai/internal/learning"
	"github.com/spots-social/ai2ai/internal/policy"
)

// #region errors
// ErrNoTransition is returned by CompleteTransition when StartTransition was
// never called for the identity.
var ErrNoTransition = errors.New("no transition in progress")

// ErrTransitionPending is returned by StartTransition when one is already
// in progress for the identity.
var ErrTransitionPending = errors.New("transition already in progress")

// ErrClosed is returned when an operation arrives after Close.
var ErrClosed = errors.New("service closed")

// #endregion errors

// #region config
// Config wires the sub-system configurations plus the service's own knobs.
type Config struct {
	Learning learning.Config
	Drift    drift.Config
	Policy   policy.Config

	// Trust adjustments after an exchange attempt.
	TrustReinforce float64
	TrustPenalty   float64

	// Peer backoff: skip peers with at least BackoffMinAttempts recorded
	// outcomes and a success rate below BackoffMinSuccessRate.
	BackoffMinAttempts    int
	BackoffMinSuccessRate float64

	// OverlayWeightStep is added to a context overlay's blend weight each
	// time new evidence lands in it. The drift classifier caps the total.
	OverlayWeightStep float64

	ExchangeTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Learning:              learning.DefaultConfig(),
		Drift:                 drift.DefaultConfig(),
		Policy:                policy.DefaultConfig(),
		TrustReinforce:        0.15,
		TrustPenalty:          0.1,
		BackoffMinAttempts:    3,
		BackoffMinSuccessRate: 0.2,
		OverlayWeightStep:     0.1,
		ExchangeTimeout:       10 * time.Second,
	}
}

// #endregion config

// #region exchange-report
// ExchangeReport summarizes one OnPeerDiscovered outcome.
type ExchangeReport struct {
	PeerFingerprint string
	Admission       policy.Decision
	Exchanged       bool
	Compatibility   float64
	Influence       drift.Decision
}

// #endregion exchange-report
