package persona

import "time"

// #region dimensions
// Dimension indexes one of the 12 personality dimensions.
type Dimension int

const (
	ExplorationEagerness Dimension = iota
	CommunityOrientation
	AuthenticityPreference
	SocialDiscoveryStyle
	TemporalFlexibility
	LocationAdventurousness
	CurationTendency
	TrustNetworkReliance
	EnergyPreference
	NoveltySeeking
	ValueOrientation
	CrowdTolerance

	NumDimensions = 12
)

var dimensionNames = [NumDimensions]string{
	"exploration_eagerness",
	"community_orientation",
	"authenticity_preference",
	"social_discovery_style",
	"temporal_flexibility",
	"location_adventurousness",
	"curation_tendency",
	"trust_network_reliance",
	"energy_preference",
	"novelty_seeking",
	"value_orientation",
	"crowd_tolerance",
}

// String returns the canonical dimension key.
func (d Dimension) String() string {
	if d < 0 || d >= NumDimensions {
		return "unknown"
	}
	return dimensionNames[d]
}

// DimensionByName resolves a canonical key to its Dimension index.
func DimensionByName(name string) (Dimension, bool) {
	for i, n := range dimensionNames {
		if n == name {
			return Dimension(i), true
		}
	}
	return 0, false
}

// DimensionNames returns the 12 canonical keys in index order.
func DimensionNames() []string {
	out := make([]string, NumDimensions)
	copy(out, dimensionNames[:])
	return out
}

// #endregion dimensions

// #region vector
// Vector holds one scalar per dimension. Values are kept in [0, 1].
type Vector [NumDimensions]float64

// Neutral returns a vector with every dimension at 0.5.
func Neutral() Vector {
	var v Vector
	for i := range v {
		v[i] = 0.5
	}
	return v
}

// Clamp bounds every element to [0, 1] and returns the result.
func (v Vector) Clamp() Vector {
	for i := range v {
		if v[i] < 0 {
			v[i] = 0
		} else if v[i] > 1 {
			v[i] = 1
		}
	}
	return v
}

// ToMap renders the vector as a name-keyed map for the boundary API.
func (v Vector) ToMap() map[string]float64 {
	m := make(map[string]float64, NumDimensions)
	for i := range v {
		m[dimensionNames[i]] = v[i]
	}
	return m
}

// VectorFromMap builds a vector from a name-keyed map. Unknown keys are
// ignored; missing keys default to 0.5.
func VectorFromMap(m map[string]float64) Vector {
	v := Neutral()
	for name, val := range m {
		if d, ok := DimensionByName(name); ok {
			v[d] = val
		}
	}
	return v.Clamp()
}

// Blend returns core*(1-w) + overlay*w, clamped.
func Blend(core, overlay Vector, w float64) Vector {
	if w < 0 {
		w = 0
	} else if w > 1 {
		w = 1
	}
	var out Vector
	for i := range out {
		out[i] = core[i]*(1-w) + overlay[i]*w
	}
	return out.Clamp()
}

// #endregion vector

// #region profile
// Profile is an immutable versioned snapshot of one identity's personality.
// Updates never mutate a Profile; they produce a child version.
type Profile struct {
	VersionID   string
	ParentID    string
	IdentityID  string
	Dimensions  Vector
	Confidence  Vector
	CreatedAt   time.Time
	MetricsJSON string
}

// #endregion profile

// #region life-phase
// LifePhase is a closed (or currently open) historical snapshot of the core
// personality. Phases are append-only: once EndDate is set it never changes.
type LifePhase struct {
	ID        string
	Name      string
	Core      Vector
	StartDate time.Time
	EndDate   *time.Time // nil = open phase
}

// Open reports whether the phase is the current one.
func (p LifePhase) Open() bool { return p.EndDate == nil }

// #endregion life-phase

// #region context
// ContextType classifies the situational signal behind a context overlay.
type ContextType string

const (
	ContextWork        ContextType = "work"
	ContextSocial      ContextType = "social"
	ContextExploration ContextType = "exploration"
	ContextLocation    ContextType = "location"
	ContextActivity    ContextType = "activity"
	ContextGeneral     ContextType = "general"
)

// ContextOverlay is a bounded transient adaptation blended over the core.
// Many overlays may exist per identity, keyed by ContextID.
type ContextOverlay struct {
	ContextID        string
	Type             ContextType
	Adapted          Vector
	AdaptationWeight float64 // [0, cap]
	UpdatedAt        time.Time
}

// #endregion context

// #region provenance-row
// DecisionRow pairs a profile version with its provenance fields.
type DecisionRow struct {
	Profile
	Decision    string
	Reason      string
	SignalsJSON string
}

// #endregion provenance-row
