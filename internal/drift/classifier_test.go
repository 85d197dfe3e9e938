package drift

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/spots-social/ai2ai/internal/persona"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUserActionIsCore(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	dec := c.Classify(map[persona.Dimension]float64{persona.EnergyPreference: 0.06}, SourceUser, "", t0)
	if dec.Outcome != OutcomeCore {
		t.Fatalf("outcome = %s, want core", dec.Outcome)
	}
}

func TestUserActionInContextIsContext(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	dec := c.Classify(map[persona.Dimension]float64{persona.EnergyPreference: 0.06}, SourceUser, "work", t0)
	if dec.Outcome != OutcomeContext {
		t.Fatalf("outcome = %s, want context", dec.Outcome)
	}
}

func TestUserActionNeverResisted(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	// Absurdly large proposal gets clamped, not resisted.
	dec := c.Classify(map[persona.Dimension]float64{persona.EnergyPreference: 5.0}, SourceUser, "", t0)
	if dec.Outcome != OutcomeCore {
		t.Fatalf("outcome = %s, want core", dec.Outcome)
	}
	if !dec.Clamped {
		t.Fatal("expected clamped flag")
	}
}

func TestEmptyProposalResisted(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	dec := c.Classify(map[persona.Dimension]float64{}, SourceUser, "", t0)
	if dec.Outcome != OutcomeResist {
		t.Fatalf("outcome = %s, want resist", dec.Outcome)
	}
}

func TestNaNDeltaDropped(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	dec := c.Classify(map[persona.Dimension]float64{persona.EnergyPreference: math.NaN()}, SourceUser, "", t0)
	if dec.Outcome != OutcomeResist {
		t.Fatalf("outcome = %s, want resist (nothing valid left)", dec.Outcome)
	}
	if !dec.Clamped {
		t.Fatal("expected clamped flag")
	}
}

func TestPeerInstantJumpResisted(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	dec := c.Classify(map[persona.Dimension]float64{persona.ExplorationEagerness: 0.35}, SourcePeer, "", t0)
	if dec.Outcome != OutcomeResist {
		t.Fatalf("outcome = %s, want resist", dec.Outcome)
	}
	if !strings.Contains(dec.Reason, "instant jump") {
		t.Fatalf("reason = %q, want instant jump", dec.Reason)
	}
}

func TestPeerInfluenceAcceptedWhenAuthentic(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	// Established slow history in one direction.
	for i := 0; i < 5; i++ {
		c.Record(Change{
			Dimension: persona.ExplorationEagerness,
			Delta:     0.05,
			Source:    SourceUser,
			At:        t0.Add(time.Duration(i*24) * time.Hour),
		})
	}

	// A small peer nudge in the same direction, well after the last change.
	dec := c.Classify(
		map[persona.Dimension]float64{persona.ExplorationEagerness: 0.02},
		SourcePeer, "", t0.Add(10*24*time.Hour),
	)
	if dec.Outcome != OutcomeContext {
		t.Fatalf("outcome = %s (auth=%.3f cons=%.3f), want context", dec.Outcome, dec.Authenticity, dec.Consistency)
	}
}

func TestAdversarialPeerSequenceResisted(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	// A homogenization attack: rapid same-direction pushes, one per minute.
	// Resisted proposals never enter history, so the attack cannot build the
	// consistency it needs.
	resisted := 0
	const attempts = 20
	for i := 0; i < attempts; i++ {
		dec := c.Classify(
			map[persona.Dimension]float64{persona.CrowdTolerance: 0.2},
			SourcePeer, "", t0.Add(time.Duration(i)*time.Minute),
		)
		if dec.Outcome == OutcomeResist {
			resisted++
		}
	}
	if float64(resisted) < 0.9*attempts {
		t.Fatalf("resisted %d/%d adversarial pushes, want >= 90%%", resisted, attempts)
	}
}

func TestConsistencyAgainstHistory(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	for i := 0; i < 4; i++ {
		c.Record(Change{Dimension: persona.EnergyPreference, Delta: 0.05, Source: SourceUser, At: t0})
	}

	// Opposite-direction proposal disagrees with all retained history.
	dec := c.Classify(map[persona.Dimension]float64{persona.EnergyPreference: -0.02}, SourcePeer, "", t0.Add(48*time.Hour))
	if dec.Consistency != 0 {
		t.Fatalf("consistency = %.3f, want 0", dec.Consistency)
	}
	if dec.Outcome != OutcomeResist {
		t.Fatalf("outcome = %s, want resist", dec.Outcome)
	}
}

func TestHistoryWindowTrimmed(t *testing.T) {
	config := DefaultConfig()
	c := NewClassifier(config)

	for i := 0; i < config.HistoryWindow+10; i++ {
		c.Record(Change{Dimension: persona.NoveltySeeking, Delta: 0.01, Source: SourceUser, At: t0.Add(time.Duration(i) * time.Hour)})
	}
	if got := len(c.History(persona.NoveltySeeking)); got != config.HistoryWindow {
		t.Fatalf("history length = %d, want %d", got, config.HistoryWindow)
	}
}

func TestBoundOverlayCapsWeightAndDrift(t *testing.T) {
	config := DefaultConfig()
	c := NewClassifier(config)

	core := persona.Neutral()
	ov := persona.ContextOverlay{
		ContextID:        "work",
		Adapted:          persona.Neutral(),
		AdaptationWeight: 0.9,
	}
	ov.Adapted[persona.EnergyPreference] = 0.95

	bounded := c.BoundOverlay(core, ov)
	if bounded.AdaptationWeight != config.AdaptationWeightCap {
		t.Fatalf("weight = %.2f, want %.2f", bounded.AdaptationWeight, config.AdaptationWeightCap)
	}
	want := 0.5 + config.MaxDriftFromCore
	if math.Abs(bounded.Adapted[persona.EnergyPreference]-want) > 1e-9 {
		t.Fatalf("adapted = %.3f, want %.3f", bounded.Adapted[persona.EnergyPreference], want)
	}
}

func TestSelfAssessmentNeutralWithoutHistory(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	if got := c.SelfAssessment(t0); got != 0.5 {
		t.Fatalf("self assessment = %.3f, want 0.5", got)
	}
}
