package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"math"

	"github.com/spots-social/ai2ai/internal/persona"
)

// #region payload
// Payload is everything that may cross the wire about an identity. It carries
// only derived summaries: a one-way fingerprint, coarse vibe bands, and an
// authenticity score. Raw dimension floats never appear here.
type Payload struct {
	Fingerprint  string        `json:"fingerprint"`
	Vibe         VibeSignature `json:"vibe_signature"`
	Authenticity float64       `json:"authenticity_score"`
}

// VibeSignature is a coarse, non-invertible personality summary. Spectrum
// holds one bucket index in [0, NumBands) per dimension; Bands labels the
// dominant trait clusters.
type VibeSignature struct {
	Archetype string            `json:"archetype"`
	Bands     map[string]string `json:"bands"`
	Spectrum  []int             `json:"spectrum"`
}

// NumBands is the quantization granularity of the spectrum.
const NumBands = 5

// #endregion payload

// #region builder
// Builder derives payloads for one identity.
type Builder struct {
	salt []byte
}

// NewBuilder creates a Builder. The salt is private to the device; it makes
// the fingerprint stable locally but unlinkable across installs.
func NewBuilder(salt []byte) *Builder {
	return &Builder{salt: salt}
}

// Build derives the exchange payload from a profile. authenticity comes from
// the drift classifier's view of the identity's recent history.
func (b *Builder) Build(profile persona.Profile, authenticity float64) Payload {
	return Payload{
		Fingerprint:  b.Fingerprint(profile.IdentityID),
		Vibe:         buildVibe(profile.Dimensions),
		Authenticity: clamp01(authenticity),
	}
}

// Fingerprint is a salted one-way hash of the identity. Not reversible.
func (b *Builder) Fingerprint(identityID string) string {
	h := sha256.New()
	h.Write(b.salt)
	h.Write([]byte(identityID))
	return hex.EncodeToString(h.Sum(nil))
}

// #endregion builder

// #region vibe
// Cluster labels over the 12 dimensions, used for the band summary.
var clusters = map[string][]persona.Dimension{
	"exploration": {persona.ExplorationEagerness, persona.NoveltySeeking, persona.LocationAdventurousness},
	"social":      {persona.CommunityOrientation, persona.SocialDiscoveryStyle, persona.CrowdTolerance},
	"grounding":   {persona.AuthenticityPreference, persona.ValueOrientation, persona.TrustNetworkReliance},
	"tempo":       {persona.EnergyPreference, persona.TemporalFlexibility, persona.CurationTendency},
}

var bandLabels = [NumBands]string{"very_low", "low", "balanced", "high", "very_high"}

func buildVibe(dims persona.Vector) VibeSignature {
	spectrum := make([]int, persona.NumDimensions)
	for i, v := range dims {
		spectrum[i] = band(v)
	}

	bands := make(map[string]string, len(clusters))
	var bestCluster string
	bestMean := -1.0
	for name, members := range clusters {
		var sum float64
		for _, d := range members {
			sum += dims[d]
		}
		mean := sum / float64(len(members))
		bands[name] = bandLabels[band(mean)]
		if mean > bestMean {
			bestMean = mean
			bestCluster = name
		}
	}

	return VibeSignature{
		Archetype: bestCluster,
		Bands:     bands,
		Spectrum:  spectrum,
	}
}

// band quantizes a [0,1] value into one of NumBands buckets.
func band(v float64) int {
	idx := int(clamp01(v) * NumBands)
	if idx >= NumBands {
		idx = NumBands - 1
	}
	return idx
}

// #endregion vibe

// #region compatibility
// Compatibility scores how well two spectra align, as cosine similarity over
// the band indices. Zero for malformed spectra.
func Compatibility(a, b VibeSignature) float64 {
	if len(a.Spectrum) != len(b.Spectrum) || len(a.Spectrum) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a.Spectrum {
		x := float64(a.Spectrum[i])
		y := float64(b.Spectrum[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return clamp01(dot / denom)
}

// InfluenceDeltas turns a remote spectrum into gentle per-dimension nudges
// toward the band midpoints the peer exhibits. The drift classifier decides
// whether any of it lands.
func InfluenceDeltas(local persona.Vector, remote VibeSignature) map[persona.Dimension]float64 {
	if len(remote.Spectrum) != persona.NumDimensions {
		return nil
	}
	deltas := make(map[persona.Dimension]float64)
	for i := 0; i < persona.NumDimensions; i++ {
		mid := (float64(remote.Spectrum[i]) + 0.5) / NumBands
		diff := mid - local[i]
		if math.Abs(diff) < 1e-9 {
			continue
		}
		deltas[persona.Dimension(i)] = diff
	}
	return deltas
}

// #endregion compatibility

// #region helpers
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
