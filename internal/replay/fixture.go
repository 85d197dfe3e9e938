package replay

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spots-social/ai2ai/internal/drift"
	"github.com/spots-social/ai2ai/internal/learning"
	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/provenance"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description  string            `json:"description"`
	StartProfile FixtureProfile    `json:"start_profile"`
	Config       FixtureConfig     `json:"config"`
	Actions      []FixtureAction   `json:"actions"`
	Expected     []FixtureExpected `json:"expected_results,omitempty"`
}

// FixtureProfile is the JSON-serializable initial profile.
type FixtureProfile struct {
	VersionID  string             `json:"version_id"`
	IdentityID string             `json:"identity_id"`
	Dimensions map[string]float64 `json:"dimensions"`
	Confidence map[string]float64 `json:"confidence"`
}

// FixtureAction mirrors replay.Interaction with JSON tags. Typed metadata is
// flattened: set the fields matching the action type, or peer_deltas for raw
// exported deltas.
type FixtureAction struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	OccurredAt string   `json:"occurred_at"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source"`

	EnergyLevel   *float64 `json:"energy_level,omitempty"`
	PriceLevel    *float64 `json:"price_level,omitempty"`
	CrowdLevel    *float64 `json:"crowd_level,omitempty"`
	RepeatVisit   *bool    `json:"repeat_visit,omitempty"`
	WithGroup     *bool    `json:"with_group,omitempty"`
	CurationScore *float64 `json:"curation_score,omitempty"`

	Deltas map[string]float64 `json:"deltas,omitempty"`
}

// FixtureExpected captures the expected drift outcome per action.
type FixtureExpected struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// FixtureConfig bundles the learning and drift configs for a replay run.
type FixtureConfig struct {
	Learning FixtureLearningConfig `json:"learning_config"`
	Drift    FixtureDriftConfig    `json:"drift_config"`
}

// FixtureLearningConfig mirrors learning.Config with JSON tags.
type FixtureLearningConfig struct {
	EnergySensitivity      float64 `json:"energy_sensitivity"`
	ValueSensitivity       float64 `json:"value_sensitivity"`
	CrowdSensitivity       float64 `json:"crowd_sensitivity"`
	CurationSensitivity    float64 `json:"curation_sensitivity"`
	NoveltyStep            float64 `json:"novelty_step"`
	CommunityStep          float64 `json:"community_step"`
	BaseConfidenceIncrease float64 `json:"base_confidence_increase"`
	PeerInfluenceScale     float64 `json:"peer_influence_scale"`
}

// FixtureDriftConfig mirrors drift.Config with JSON tags. Durations are hours.
type FixtureDriftConfig struct {
	AuthenticityThreshold float64 `json:"authenticity_threshold"`
	ConsistencyThreshold  float64 `json:"consistency_threshold"`
	AdaptationWeightCap   float64 `json:"adaptation_weight_cap"`
	MaxDriftFromCore      float64 `json:"max_drift_from_core"`
	MaxVelocityPerHour    float64 `json:"max_velocity_per_hour"`
	MaxInstantJump        float64 `json:"max_instant_jump"`
	HistoryWindow         int     `json:"history_window"`
	TransitionWindowHours float64 `json:"transition_window_hours"`
	TransitionMinChanges  int     `json:"transition_min_changes"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToProfile converts a FixtureProfile to a domain Profile.
func (p *FixtureProfile) ToProfile() persona.Profile {
	return persona.Profile{
		VersionID:  p.VersionID,
		IdentityID: p.IdentityID,
		Dimensions: persona.VectorFromMap(p.Dimensions),
		Confidence: confidenceFromMap(p.Confidence),
	}
}

// confidenceFromMap is VectorFromMap with a zero default: unobserved
// dimensions have no confidence, not the neutral midpoint.
func confidenceFromMap(m map[string]float64) persona.Vector {
	var v persona.Vector
	for name, val := range m {
		if d, ok := persona.DimensionByName(name); ok {
			v[d] = val
		}
	}
	return v.Clamp()
}

// ToInteraction converts a FixtureAction to a domain Interaction.
func (fa *FixtureAction) ToInteraction() (Interaction, error) {
	at, err := time.Parse(time.RFC3339, fa.OccurredAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("action %s: bad occurred_at: %w", fa.ID, err)
	}
	inter := Interaction{
		ID:         fa.ID,
		ActionType: learning.ActionType(fa.Type),
		OccurredAt: at,
		Tags:       fa.Tags,
		Source:     drift.Source(fa.Source),
	}
	if inter.Source == "" {
		inter.Source = drift.SourceUser
	}

	if len(fa.Deltas) > 0 {
		inter.Deltas = make(map[persona.Dimension]float64, len(fa.Deltas))
		for name, delta := range fa.Deltas {
			if d, ok := persona.DimensionByName(name); ok {
				inter.Deltas[d] = delta
			}
		}
		return inter, nil
	}

	switch inter.ActionType {
	case learning.ActionSpotVisit:
		inter.Meta = learning.SpotVisit{
			EnergyLevel: fa.EnergyLevel,
			PriceLevel:  fa.PriceLevel,
			CrowdLevel:  fa.CrowdLevel,
			RepeatVisit: fa.RepeatVisit,
		}
	case learning.ActionEventAttend:
		inter.Meta = learning.EventAttend{
			EnergyLevel: fa.EnergyLevel,
			CrowdLevel:  fa.CrowdLevel,
			WithGroup:   fa.WithGroup,
		}
	case learning.ActionListSave:
		inter.Meta = learning.ListSave{CurationScore: fa.CurationScore}
	default:
		return Interaction{}, fmt.Errorf("action %s: unknown type %q without deltas", fa.ID, fa.Type)
	}
	return inter, nil
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	return ReplayConfig{
		Learning: learning.Config{
			EnergySensitivity:      fc.Learning.EnergySensitivity,
			ValueSensitivity:       fc.Learning.ValueSensitivity,
			CrowdSensitivity:       fc.Learning.CrowdSensitivity,
			CurationSensitivity:    fc.Learning.CurationSensitivity,
			NoveltyStep:            fc.Learning.NoveltyStep,
			CommunityStep:          fc.Learning.CommunityStep,
			BaseConfidenceIncrease: fc.Learning.BaseConfidenceIncrease,
			PeerInfluenceScale:     fc.Learning.PeerInfluenceScale,
		},
		Drift: drift.Config{
			AuthenticityThreshold: fc.Drift.AuthenticityThreshold,
			ConsistencyThreshold:  fc.Drift.ConsistencyThreshold,
			AdaptationWeightCap:   fc.Drift.AdaptationWeightCap,
			MaxDriftFromCore:      fc.Drift.MaxDriftFromCore,
			MaxVelocityPerHour:    fc.Drift.MaxVelocityPerHour,
			MaxInstantJump:        fc.Drift.MaxInstantJump,
			HistoryWindow:         fc.Drift.HistoryWindow,
			TransitionWindow:      time.Duration(fc.Drift.TransitionWindowHours * float64(time.Hour)),
			TransitionMinChanges:  fc.Drift.TransitionMinChanges,
		},
	}
}

// DefaultFixtureConfig renders the production defaults in fixture form.
func DefaultFixtureConfig() FixtureConfig {
	lc := learning.DefaultConfig()
	dc := drift.DefaultConfig()
	return FixtureConfig{
		Learning: FixtureLearningConfig{
			EnergySensitivity:      lc.EnergySensitivity,
			ValueSensitivity:       lc.ValueSensitivity,
			CrowdSensitivity:       lc.CrowdSensitivity,
			CurationSensitivity:    lc.CurationSensitivity,
			NoveltyStep:            lc.NoveltyStep,
			CommunityStep:          lc.CommunityStep,
			BaseConfidenceIncrease: lc.BaseConfidenceIncrease,
			PeerInfluenceScale:     lc.PeerInfluenceScale,
		},
		Drift: FixtureDriftConfig{
			AuthenticityThreshold: dc.AuthenticityThreshold,
			ConsistencyThreshold:  dc.ConsistencyThreshold,
			AdaptationWeightCap:   dc.AdaptationWeightCap,
			MaxDriftFromCore:      dc.MaxDriftFromCore,
			MaxVelocityPerHour:    dc.MaxVelocityPerHour,
			MaxInstantJump:        dc.MaxInstantJump,
			HistoryWindow:         dc.HistoryWindow,
			TransitionWindowHours: dc.TransitionWindow.Hours(),
			TransitionMinChanges:  dc.TransitionMinChanges,
		},
	}
}

// #endregion fixture-loader

// #region export

// ExportFromProvenance builds a fixture from an identity's recorded decisions.
// The exported actions carry the raw per-dimension deltas the classifier saw,
// so replaying them reproduces the decisions without the original metadata.
func ExportFromProvenance(db *sql.DB, start persona.Profile, identityID string, limit int) (*Fixture, error) {
	entries, err := provenance.ListRecent(db, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	f := &Fixture{
		Description: fmt.Sprintf("exported session for %s", identityID),
		StartProfile: FixtureProfile{
			VersionID:  start.VersionID,
			IdentityID: start.IdentityID,
			Dimensions: start.Dimensions.ToMap(),
			Confidence: start.Confidence.ToMap(),
		},
		Config: DefaultFixtureConfig(),
	}

	// ListRecent is newest first; fixtures replay oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.SignalsJSON == "" {
			continue
		}
		var rec provenance.ActionRecord
		if err := json.Unmarshal([]byte(e.SignalsJSON), &rec); err != nil {
			continue
		}
		id := fmt.Sprintf("action-%03d", len(f.Actions)+1)
		f.Actions = append(f.Actions, FixtureAction{
			ID:         id,
			Type:       rec.ActionType,
			OccurredAt: e.CreatedAt.UTC().Format(time.RFC3339),
			Source:     e.Source,
			Deltas:     rec.Deltas,
		})
		f.Expected = append(f.Expected, FixtureExpected{ID: id, Outcome: e.Decision})
	}
	return f, nil
}

// #endregion export
