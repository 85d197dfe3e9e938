package policy

import "time"

// #region config
// Config holds thresholds for exchange admission.
type Config struct {
	MinTrustScore     float64       // gate 1: known peers below this are refused
	AllowFirstContact bool          // gate 1: let never-seen peers through
	MinCompatibility  float64       // gate 2: vibe alignment floor
	Cooldown          time.Duration // gate 3: per-peer spacing between exchanges
	AlwaysExchange    bool          // bypass gates 1 and 2 (debugging)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinTrustScore:     0.1,
		AllowFirstContact: true,
		MinCompatibility:  0.3,
		Cooldown:          time.Hour,
	}
}

// #endregion config

// #region decision
// Decision records which gates passed for one admission check.
type Decision struct {
	Gate1Passed bool // trust
	Gate2Passed bool // compatibility
	Gate3Passed bool // cooldown
	Allowed     bool
	Reason      string
}

// #endregion decision
