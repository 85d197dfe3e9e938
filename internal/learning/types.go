package learning

import (
	"time"

	"github.com/spots-social/ai2ai/internal/persona"
)

// #region action-types
// ActionType enumerates trackable user actions.
type ActionType string

const (
	ActionSpotVisit     ActionType = "spot_visit"
	ActionEventAttend   ActionType = "event_attend"
	ActionListSave      ActionType = "list_save"
	ActionPeerInfluence ActionType = "peer_influence"
)

// Metadata is the closed set of action metadata shapes. Each shape knows
// which dimensions it touches; there is no dynamic key bag.
type Metadata interface {
	actionMetadata()
}

// SpotVisit carries observations from visiting a spot. Nil fields were not
// observed and leave their dimension untouched.
type SpotVisit struct {
	EnergyLevel *float64 // [0,1] → energy_preference
	PriceLevel  *float64 // [0,1] → value_orientation (inverted: cheap = value-oriented)
	CrowdLevel  *float64 // [0,1] → crowd_tolerance
	RepeatVisit *bool    // fixed ∓step on novelty_seeking
}

// EventAttend carries observations from attending an event.
type EventAttend struct {
	EnergyLevel *float64 // [0,1] → energy_preference
	CrowdLevel  *float64 // [0,1] → crowd_tolerance
	WithGroup   *bool    // fixed ±step on community_orientation
}

// ListSave carries observations from saving a curated list.
type ListSave struct {
	CurationScore *float64 // [0,1] → curation_tendency
}

// PeerInfluence carries a peer-derived nudge, already scaled by the exchange
// layer. The drift classifier decides whether any of it lands.
type PeerInfluence struct {
	Deltas map[persona.Dimension]float64
}

func (SpotVisit) actionMetadata()     {}
func (EventAttend) actionMetadata()   {}
func (ListSave) actionMetadata()      {}
func (PeerInfluence) actionMetadata() {}

// Action is one typed user-action event. Tags carry free-form venue or
// category labels from the application ("coworking", "concert", ...) and feed
// context detection; they never reach the wire.
type Action struct {
	Type       ActionType
	OccurredAt time.Time
	Tags       []string
	Meta       Metadata
}

// #endregion action-types

// #region config
// Config holds per-dimension sensitivity and confidence parameters.
type Config struct {
	EnergySensitivity      float64 // delta = (observed - 0.5) * sensitivity
	ValueSensitivity       float64
	CrowdSensitivity       float64
	CurationSensitivity    float64
	NoveltyStep            float64 // fixed step keyed on repeat-visit boolean
	CommunityStep          float64 // fixed step keyed on with-group boolean
	BaseConfidenceIncrease float64 // added to every touched dimension
	PeerInfluenceScale     float64 // damping applied to peer-sourced deltas
}

// DefaultConfig returns the documented production constants.
func DefaultConfig() Config {
	return Config{
		EnergySensitivity:      0.15,
		ValueSensitivity:       0.12,
		CrowdSensitivity:       0.10,
		CurationSensitivity:    0.10,
		NoveltyStep:            0.08,
		CommunityStep:          0.08,
		BaseConfidenceIncrease: 0.05,
		PeerInfluenceScale:     0.25,
	}
}

// #endregion config

// #region result
// Result is the pure output of ApplyAction. Version identity (ID, timestamps)
// is assigned later at the commit point so equal inputs give equal results.
type Result struct {
	Dimensions persona.Vector
	Confidence persona.Vector
	Deltas     map[persona.Dimension]float64
	Touched    []persona.Dimension
}

// #endregion result
