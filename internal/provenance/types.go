package provenance

import "time"

// #region entry
// Entry is a single row in the provenance_log table.
type Entry struct {
	VersionID   string
	IdentityID  string
	TriggerType string // "user_action" | "peer_exchange" | "transition"
	Source      string // "user" | "peer"
	SignalsJSON string
	Decision    string // "core" | "context" | "resist" | "commit"
	Reason      string
	CreatedAt   time.Time
}

// #endregion entry

// #region action-record
// ActionRecord captures the complete classifier inputs for one decision.
// Serialized as JSON into provenance_log.signals_json for deterministic
// replay.
type ActionRecord struct {
	ActionType string             `json:"action_type"`
	Deltas     map[string]float64 `json:"deltas"`
	ContextID  string             `json:"context_id,omitempty"`

	// Classifier scores at decision time
	Authenticity float64 `json:"authenticity"`
	Consistency  float64 `json:"consistency"`
	Velocity     float64 `json:"velocity"`
	Clamped      bool    `json:"clamped,omitempty"`

	// Thresholds active at decision time
	AuthenticityThreshold float64 `json:"authenticity_threshold"`
	ConsistencyThreshold  float64 `json:"consistency_threshold"`
}

// #endregion action-record
