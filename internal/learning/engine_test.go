package learning

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/spots-social/ai2ai/internal/persona"
)

func f64(v float64) *float64 { return &v }
func boolp(v bool) *bool     { return &v }

func neutralProfile() persona.Profile {
	return persona.Profile{
		VersionID:  "v1",
		IdentityID: "alice",
		Dimensions: persona.Neutral(),
	}
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %.6f, want %.6f", got, want)
	}
}

func TestSpotVisitHighEnergy(t *testing.T) {
	result := ApplyAction(neutralProfile(), Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{EnergyLevel: f64(0.9)},
	}, DefaultConfig())

	// (0.9 - 0.5) * 0.15 = 0.06
	approx(t, result.Dimensions[persona.EnergyPreference], 0.56)
	approx(t, result.Deltas[persona.EnergyPreference], 0.06)
	if len(result.Touched) != 1 || result.Touched[0] != persona.EnergyPreference {
		t.Fatalf("touched = %v, want [energy_preference]", result.Touched)
	}
}

func TestSpotVisitPriceInverted(t *testing.T) {
	result := ApplyAction(neutralProfile(), Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{PriceLevel: f64(0.9)},
	}, DefaultConfig())

	// Expensive spot: value orientation drops. (0.5 - 0.9) * 0.12 = -0.048
	approx(t, result.Dimensions[persona.ValueOrientation], 0.452)
}

func TestRepeatVisitNoveltyStep(t *testing.T) {
	config := DefaultConfig()

	repeat := ApplyAction(neutralProfile(), Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{RepeatVisit: boolp(true)},
	}, config)
	approx(t, repeat.Dimensions[persona.NoveltySeeking], 0.5-config.NoveltyStep)

	fresh := ApplyAction(neutralProfile(), Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{RepeatVisit: boolp(false)},
	}, config)
	approx(t, fresh.Dimensions[persona.NoveltySeeking], 0.5+config.NoveltyStep)
}

func TestNoveltyClampsAtZero(t *testing.T) {
	profile := neutralProfile()
	profile.Dimensions[persona.NoveltySeeking] = 0.05

	result := ApplyAction(profile, Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{RepeatVisit: boolp(true)},
	}, DefaultConfig())

	approx(t, result.Dimensions[persona.NoveltySeeking], 0)
}

func TestDimensionClampsAtOne(t *testing.T) {
	profile := neutralProfile()
	profile.Dimensions[persona.EnergyPreference] = 0.99

	result := ApplyAction(profile, Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{EnergyLevel: f64(1.0)},
	}, DefaultConfig())

	approx(t, result.Dimensions[persona.EnergyPreference], 1.0)
}

func TestEventAttendWithGroup(t *testing.T) {
	config := DefaultConfig()

	together := ApplyAction(neutralProfile(), Action{
		Type: ActionEventAttend,
		Meta: EventAttend{WithGroup: boolp(true)},
	}, config)
	approx(t, together.Dimensions[persona.CommunityOrientation], 0.5+config.CommunityStep)

	alone := ApplyAction(neutralProfile(), Action{
		Type: ActionEventAttend,
		Meta: EventAttend{WithGroup: boolp(false)},
	}, config)
	approx(t, alone.Dimensions[persona.CommunityOrientation], 0.5-config.CommunityStep)
}

func TestConfidenceGrowsOnlyForTouched(t *testing.T) {
	result := ApplyAction(neutralProfile(), Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{EnergyLevel: f64(0.8), CrowdLevel: f64(0.2)},
	}, DefaultConfig())

	approx(t, result.Confidence[persona.EnergyPreference], 0.05)
	approx(t, result.Confidence[persona.CrowdTolerance], 0.05)
	approx(t, result.Confidence[persona.NoveltySeeking], 0)
}

func TestPeerInfluenceDamped(t *testing.T) {
	result := ApplyAction(neutralProfile(), Action{
		Type: ActionPeerInfluence,
		Meta: PeerInfluence{Deltas: map[persona.Dimension]float64{
			persona.ExplorationEagerness: 0.4,
			persona.Dimension(99):        0.4, // unknown: dropped
		}},
	}, DefaultConfig())

	// 0.4 * 0.25 = 0.1
	approx(t, result.Deltas[persona.ExplorationEagerness], 0.1)
	if len(result.Deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(result.Deltas))
	}
}

func TestApplyActionIsPure(t *testing.T) {
	profile := neutralProfile()
	action := Action{
		Type:       ActionSpotVisit,
		OccurredAt: time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC),
		Meta:       SpotVisit{EnergyLevel: f64(0.9), CrowdLevel: f64(0.3)},
	}
	config := DefaultConfig()

	first := ApplyAction(profile, action, config)
	second := ApplyAction(profile, action, config)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("equal inputs produced different results:\n%s", diff)
	}
	if diff := cmp.Diff(neutralProfile(), profile); diff != "" {
		t.Fatalf("input profile was mutated:\n%s", diff)
	}
}

func TestNoObservationNoChange(t *testing.T) {
	result := ApplyAction(neutralProfile(), Action{
		Type: ActionSpotVisit,
		Meta: SpotVisit{},
	}, DefaultConfig())

	if len(result.Deltas) != 0 || len(result.Touched) != 0 {
		t.Fatalf("empty metadata should touch nothing, got %v", result.Deltas)
	}
	if diff := cmp.Diff(persona.Neutral(), result.Dimensions); diff != "" {
		t.Fatalf("dimensions changed:\n%s", diff)
	}
}
