package service

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spots-social/ai2ai/internal/anonymize"
	"github.com/spots-social/ai2ai/internal/drift"
	"github.com/spots-social/ai2ai/internal/exchange"
	"github.com/spots-social/ai2ai/internal/learning"
	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/provenance"
)

// #region fixtures

func f64(v float64) *float64 { return &v }

type fakeRunner struct {
	result exchange.Result
	err    error
	runs   int
}

func (f *fakeRunner) Run(ctx context.Context, fp string, local anonymize.Payload) (exchange.Result, error) {
	f.runs++
	return f.result, f.err
}

func (f *fakeRunner) Close() error { return nil }

func newTestService(t *testing.T, runner *fakeRunner) *Service {
	t.Helper()
	store, err := persona.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dial := func(addr string) (ExchangeRunner, error) { return runner, nil }
	if runner == nil {
		dial = nil
	}
	svc, err := New(store, []byte("test-salt"), dial, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// neutralBandSpectrum is a remote vibe that nudges nothing on a neutral core
// except the dimensions it deliberately shifts.
func neutralBandSpectrum() []int {
	spectrum := make([]int, persona.NumDimensions)
	for i := range spectrum {
		spectrum[i] = 2 // band midpoint 0.5
	}
	return spectrum
}

// #endregion fixtures

// #region record-action-tests

func TestRecordActionCommitsCoreVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.EnsureProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}

	decision, err := svc.RecordAction(ctx, "alice", learning.Action{
		Type: learning.ActionSpotVisit,
		Meta: learning.SpotVisit{EnergyLevel: f64(0.9)},
	})
	if err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	if decision.Outcome != drift.OutcomeCore {
		t.Fatalf("outcome = %s, want core", decision.Outcome)
	}

	cur, err := svc.store.GetCurrent("alice")
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if cur.VersionID == first.VersionID {
		t.Fatal("no new version committed")
	}
	if cur.ParentID != first.VersionID {
		t.Fatalf("parent = %s, want %s", cur.ParentID, first.VersionID)
	}
	if math.Abs(cur.Dimensions[persona.EnergyPreference]-0.56) > 1e-9 {
		t.Fatalf("energy = %f, want 0.56", cur.Dimensions[persona.EnergyPreference])
	}

	// The decision is on the provenance log, replayable.
	entries, err := provenance.ListRecent(svc.store.DB(), "alice", 5)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(entries) != 1 || entries[0].Decision != "core" || entries[0].VersionID != cur.VersionID {
		t.Fatalf("unexpected provenance: %+v", entries)
	}
}

func TestRecordActionTaggedGoesToContextOverlay(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, _ := svc.EnsureProfile(ctx, "alice")

	decision, err := svc.RecordAction(ctx, "alice", learning.Action{
		Type: learning.ActionSpotVisit,
		Tags: []string{"coworking cafe"},
		Meta: learning.SpotVisit{EnergyLevel: f64(0.1)},
	})
	if err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	if decision.Outcome != drift.OutcomeContext {
		t.Fatalf("outcome = %s, want context", decision.Outcome)
	}

	// Core untouched; the overlay absorbed the change.
	cur, _ := svc.store.GetCurrent("alice")
	if cur.VersionID != first.VersionID {
		t.Fatal("context action committed a core version")
	}
	ov, err := svc.store.GetContext("alice", string(persona.ContextWork))
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if ov.Type != persona.ContextWork {
		t.Fatalf("type = %s, want work", ov.Type)
	}
	// (0.1 - 0.5) * 0.15 = -0.06 under the core's 0.5
	if math.Abs(ov.Adapted[persona.EnergyPreference]-0.44) > 1e-9 {
		t.Fatalf("adapted energy = %f, want 0.44", ov.Adapted[persona.EnergyPreference])
	}
	if ov.AdaptationWeight != svc.config.OverlayWeightStep {
		t.Fatalf("weight = %f, want %f", ov.AdaptationWeight, svc.config.OverlayWeightStep)
	}
}

func TestEffectivePersonalityBlendsOverlay(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	// Push the work overlay a few times to build weight.
	for i := 0; i < 3; i++ {
		if _, err := svc.RecordAction(ctx, "alice", learning.Action{
			Type:       learning.ActionSpotVisit,
			OccurredAt: time.Now().UTC().Add(time.Duration(i-3) * 24 * time.Hour),
			Tags:       []string{"office"},
			Meta:       learning.SpotVisit{EnergyLevel: f64(0.1)},
		}); err != nil {
			t.Fatalf("RecordAction: %v", err)
		}
	}

	core, err := svc.GetEffectivePersonality("alice", "")
	if err != nil {
		t.Fatalf("GetEffectivePersonality: %v", err)
	}
	atWork, err := svc.GetEffectivePersonality("alice", string(persona.ContextWork))
	if err != nil {
		t.Fatalf("GetEffectivePersonality(work): %v", err)
	}
	if atWork["energy_preference"] >= core["energy_preference"] {
		t.Fatalf("work energy %f should sit below core %f", atWork["energy_preference"], core["energy_preference"])
	}

	// Unknown context falls back to core.
	fallback, err := svc.GetEffectivePersonality("alice", "surfing")
	if err != nil {
		t.Fatalf("GetEffectivePersonality(unknown): %v", err)
	}
	if fallback["energy_preference"] != core["energy_preference"] {
		t.Fatal("unknown context should fall back to core")
	}
}

// #endregion record-action-tests

// #region peer-influence-tests

func TestPeerInfluenceResistedForFreshIdentity(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	// An aggressive remote: every dimension pushed to the extreme.
	spectrum := make([]int, persona.NumDimensions)
	for i := range spectrum {
		spectrum[i] = anonymize.NumBands - 1
	}
	remote := anonymize.Payload{
		Fingerprint:  "fp-remote",
		Vibe:         anonymize.VibeSignature{Archetype: "exploration", Spectrum: spectrum},
		Authenticity: 0.9,
	}

	decision, err := svc.ApplyPeerInfluence(ctx, "alice", "fp-remote", remote)
	if err != nil {
		t.Fatalf("ApplyPeerInfluence: %v", err)
	}
	if decision.Outcome != drift.OutcomeResist {
		t.Fatalf("outcome = %s, want resist", decision.Outcome)
	}

	// Nothing landed anywhere.
	overlays, _ := svc.store.ListContexts("alice")
	if len(overlays) != 0 {
		t.Fatalf("resisted influence created overlays: %+v", overlays)
	}
	cur, _ := svc.store.GetCurrent("alice")
	for i, v := range cur.Dimensions {
		if v != 0.5 {
			t.Fatalf("core dimension %d moved to %f", i, v)
		}
	}

	// But the resistance is on the record.
	entries, _ := provenance.ListRecent(svc.store.DB(), "alice", 5)
	if len(entries) != 1 || entries[0].Decision != "resist" || entries[0].Source != "peer" {
		t.Fatalf("unexpected provenance: %+v", entries)
	}
}

func TestPeerInfluenceAcceptedAfterConsistentHistory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	// Weeks of slow first-party drift toward high energy.
	for i := 0; i < 5; i++ {
		if _, err := svc.RecordAction(ctx, "alice", learning.Action{
			Type:       learning.ActionSpotVisit,
			OccurredAt: time.Now().UTC().Add(-time.Duration((6-i)*96) * time.Hour),
			Meta:       learning.SpotVisit{EnergyLevel: f64(0.9)},
		}); err != nil {
			t.Fatalf("RecordAction: %v", err)
		}
	}

	// A peer whose vibe agrees with that direction, gently.
	spectrum := neutralBandSpectrum()
	spectrum[persona.EnergyPreference] = anonymize.NumBands - 1
	remote := anonymize.Payload{
		Fingerprint: "fp-remote",
		Vibe:        anonymize.VibeSignature{Archetype: "tempo", Spectrum: spectrum},
	}

	decision, err := svc.ApplyPeerInfluence(ctx, "alice", "fp-remote", remote)
	if err != nil {
		t.Fatalf("ApplyPeerInfluence: %v", err)
	}
	if decision.Outcome != drift.OutcomeContext {
		t.Fatalf("outcome = %s (auth=%.3f cons=%.3f vel=%.4f), want context",
			decision.Outcome, decision.Authenticity, decision.Consistency, decision.Velocity)
	}

	// Peer influence lands as a bounded overlay, never as core.
	ov, err := svc.store.GetContext("alice", "peer:tempo")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if ov.AdaptationWeight > svc.config.Drift.AdaptationWeightCap {
		t.Fatalf("weight %f above cap", ov.AdaptationWeight)
	}
	cur, _ := svc.store.GetCurrent("alice")
	diff := math.Abs(ov.Adapted[persona.EnergyPreference] - cur.Dimensions[persona.EnergyPreference])
	if diff > svc.config.Drift.MaxDriftFromCore+1e-9 {
		t.Fatalf("overlay drifted %f from core, cap %f", diff, svc.config.Drift.MaxDriftFromCore)
	}
}

// #endregion peer-influence-tests

// #region discovery-pipeline-tests

func TestOnPeerDiscoveredFullPipeline(t *testing.T) {
	spectrum := neutralBandSpectrum()
	runner := &fakeRunner{result: exchange.Result{
		PeerFingerprint: "fp-bob",
		Remote: anonymize.Payload{
			Fingerprint: "fp-bob",
			Vibe:        anonymize.VibeSignature{Archetype: "social", Spectrum: spectrum},
		},
		Compatibility: 0.8,
	}}
	svc := newTestService(t, runner)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	report, err := svc.OnPeerDiscovered(ctx, "alice", "fp-bob", "10.0.0.2:50061")
	if err != nil {
		t.Fatalf("OnPeerDiscovered: %v", err)
	}
	if !report.Exchanged || runner.runs != 1 {
		t.Fatalf("exchange did not run: %+v", report)
	}

	// Trust built, outcome recorded, insight kept.
	score, _ := svc.trust.Score("fp-bob")
	if score != svc.config.TrustReinforce {
		t.Fatalf("trust = %f, want %f", score, svc.config.TrustReinforce)
	}
	rate, attempts, _ := svc.peers.SuccessRate("fp-bob")
	if rate != 1 || attempts != 1 {
		t.Fatalf("outcome not recorded: rate=%f attempts=%d", rate, attempts)
	}
	insights, _ := svc.insights.ForPeer("fp-bob", 5)
	if len(insights) != 1 {
		t.Fatalf("insights = %d, want 1", len(insights))
	}

	// Immediate re-discovery hits the cooldown gate, not the wire.
	report, err = svc.OnPeerDiscovered(ctx, "alice", "fp-bob", "10.0.0.2:50061")
	if err != nil {
		t.Fatalf("OnPeerDiscovered (cooldown): %v", err)
	}
	if report.Exchanged || runner.runs != 1 {
		t.Fatalf("cooldown did not hold: %+v", report)
	}
	if !strings.Contains(report.Admission.Reason, "gate3") {
		t.Fatalf("reason = %q, want gate3", report.Admission.Reason)
	}
}

func TestOnPeerDiscoveredFailureRecordsOutcome(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	svc := newTestService(t, runner)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	if _, err := svc.OnPeerDiscovered(ctx, "alice", "fp-flaky", "10.0.0.3:50061"); err == nil {
		t.Fatal("expected exchange failure to surface")
	}

	rate, attempts, _ := svc.peers.SuccessRate("fp-flaky")
	if rate != 0 || attempts != 1 {
		t.Fatalf("failure not recorded: rate=%f attempts=%d", rate, attempts)
	}

	// A never-trusted peer gains no zero-score trust edge from failing; the
	// outcome log alone drives backoff.
	if _, known, _ := svc.trust.Get("fp-flaky"); known {
		t.Fatal("failed first contact seeded a trust edge")
	}
}

func TestOnPeerDiscoveredBacksOffAfterRepeatedFailures(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	svc := newTestService(t, runner)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	for i := 0; i < svc.config.BackoffMinAttempts; i++ {
		svc.OnPeerDiscovered(ctx, "alice", "fp-flaky", "10.0.0.3:50061")
	}
	dials := runner.runs

	report, err := svc.OnPeerDiscovered(ctx, "alice", "fp-flaky", "10.0.0.3:50061")
	if err != nil {
		t.Fatalf("backoff should be a clean no-op, got %v", err)
	}
	if runner.runs != dials {
		t.Fatal("backed-off peer was dialed again")
	}
	if !strings.Contains(report.Admission.Reason, "backoff") {
		t.Fatalf("reason = %q, want backoff", report.Admission.Reason)
	}
}

func TestOnPeerDiscoveredSkipsSelf(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	report, err := svc.OnPeerDiscovered(ctx, "alice", svc.Fingerprint("alice"), "127.0.0.1:50061")
	if err != nil {
		t.Fatalf("OnPeerDiscovered: %v", err)
	}
	if report.Exchanged || runner.runs != 0 {
		t.Fatal("exchanged with self")
	}
}

// #endregion discovery-pipeline-tests

// #region transition-tests

func TestTransitionLifecycle(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	// Completing without starting is refused.
	if _, err := svc.CompleteTransition(ctx, "alice", "new-city"); err != ErrNoTransition {
		t.Fatalf("err = %v, want ErrNoTransition", err)
	}

	if err := svc.StartTransition(ctx, "alice"); err != nil {
		t.Fatalf("StartTransition: %v", err)
	}
	if err := svc.StartTransition(ctx, "alice"); err != ErrTransitionPending {
		t.Fatalf("err = %v, want ErrTransitionPending", err)
	}

	// Some learning happens mid-transition.
	if _, err := svc.RecordAction(ctx, "alice", learning.Action{
		Type: learning.ActionSpotVisit,
		Meta: learning.SpotVisit{EnergyLevel: f64(0.9)},
	}); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}

	phase, err := svc.CompleteTransition(ctx, "alice", "new-city")
	if err != nil {
		t.Fatalf("CompleteTransition: %v", err)
	}
	if phase.Name != "new-city" || !phase.Open() {
		t.Fatalf("unexpected phase: %+v", phase)
	}
	if math.Abs(phase.Core[persona.EnergyPreference]-0.56) > 1e-9 {
		t.Fatalf("phase core energy = %f, want 0.56", phase.Core[persona.EnergyPreference])
	}

	// Transition state cleared; phases closed/opened atomically.
	pending, _ := svc.TransitionPending(ctx, "alice")
	if pending {
		t.Fatal("transition still pending after completion")
	}
	phases, _ := svc.store.ListPhases("alice")
	if len(phases) != 2 || phases[0].Open() || !phases[1].Open() {
		t.Fatalf("unexpected phase log: %+v", phases)
	}

	if _, err := svc.CompleteTransition(ctx, "alice", "again"); err != ErrNoTransition {
		t.Fatalf("err = %v, want ErrNoTransition", err)
	}
}

func TestCompleteTransitionAuditCatchesCorruptPhaseLog(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "alice")

	// Forge a duplicate of the open phase sharing its start date. The commit
	// itself still succeeds; the post-commit audit must flag the breach.
	_, err := svc.store.DB().Exec(
		`INSERT INTO life_phases (phase_id, identity_id, name, core, start_date, end_date)
		 SELECT 'forged', identity_id, 'forged', core, start_date, end_date
		 FROM life_phases WHERE identity_id = 'alice'`)
	if err != nil {
		t.Fatalf("forge phase: %v", err)
	}

	if err := svc.StartTransition(ctx, "alice"); err != nil {
		t.Fatalf("StartTransition: %v", err)
	}
	_, err = svc.CompleteTransition(ctx, "alice", "new-city")
	if err == nil || !strings.Contains(err.Error(), "phase audit failed") {
		t.Fatalf("err = %v, want phase audit failure", err)
	}
}

// #endregion transition-tests
