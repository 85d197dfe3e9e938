package service

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spots-social/ai2ai/internal/anonymize"
	"github.com/spots-social/ai2ai/internal/audit"
	"github.com/spots-social/ai2ai/internal/drift"
	"github.com/spots-social/ai2ai/internal/exchange"
	"github.com/spots-social/ai2ai/internal/insight"
	"github.com/spots-social/ai2ai/internal/learning"
	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/policy"
	"github.com/spots-social/ai2ai/internal/provenance"
	"github.com/spots-social/ai2ai/internal/trust"
)

// #endregion

// #region dialer
// ExchangeRunner is the initiator side of one peer exchange.
type ExchangeRunner interface {
	Run(ctx context.Context, localFingerprint string, local anonymize.Payload) (exchange.Result, error)
	Close() error
}

// Dialer opens an ExchangeRunner against a peer's transport address.
type Dialer func(addr string) (ExchangeRunner, error)

// GRPCDialer is the production Dialer.
func GRPCDialer(addr string) (ExchangeRunner, error) {
	return exchange.NewClient(addr)
}

// #endregion dialer

// #region service-struct
// Service owns the per-identity personality timeline. It is the sole writer:
// every mutation (user action, peer influence, transition) funnels through
// one commit loop, so concurrent exchanges apply one at a time and a
// cancelled caller never leaves a half-applied update behind.
type Service struct {
	store     *persona.Store
	trust     *trust.Store
	insights  *insight.Store
	peers     *PeerMemory
	admission *policy.Admission
	builder   *anonymize.Builder
	dial      Dialer
	config    Config

	// Touched only inside the commit loop.
	classifiers map[string]*drift.Classifier
	transitions map[string]time.Time

	writes   chan writeOp
	done     chan struct{}
	stopOnce sync.Once
}

type writeOp struct {
	fn   func() error
	done chan error
}

// New wires a Service over an opened store. salt is the device-private
// fingerprint salt; dial may be nil to use the gRPC dialer.
func New(store *persona.Store, salt []byte, dial Dialer, config Config) (*Service, error) {
	trustStore, err := trust.NewStore(store.DB())
	if err != nil {
		return nil, err
	}
	insightStore, err := insight.NewStore(store.DB())
	if err != nil {
		return nil, err
	}
	peerMem, err := NewPeerMemory(store.DB())
	if err != nil {
		return nil, err
	}
	if dial == nil {
		dial = GRPCDialer
	}

	s := &Service{
		store:       store,
		trust:       trustStore,
		insights:    insightStore,
		peers:       peerMem,
		admission:   policy.NewAdmission(trustStore, config.Policy),
		builder:     anonymize.NewBuilder(salt),
		dial:        dial,
		config:      config,
		classifiers: make(map[string]*drift.Classifier),
		transitions: make(map[string]time.Time),
		writes:      make(chan writeOp),
		done:        make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Close stops the commit loop. The store is owned by the caller.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Trust exposes the trust store for the application layer (sever, decay).
func (s *Service) Trust() *trust.Store { return s.trust }

// Insights exposes the insight store for the application layer.
func (s *Service) Insights() *insight.Store { return s.insights }

// #endregion service-struct

// #region commit-loop
func (s *Service) loop() {
	for {
		select {
		case op := <-s.writes:
			op.done <- op.fn()
		case <-s.done:
			return
		}
	}
}

// serialize runs fn on the commit loop. Once fn is admitted it runs to
// completion even if ctx is cancelled while waiting for the result; fn itself
// is all-or-nothing at the storage layer.
func (s *Service) serialize(ctx context.Context, fn func() error) error {
	op := writeOp{fn: fn, done: make(chan error, 1)}
	select {
	case s.writes <- op:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.done:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Service) classifierFor(identityID string) *drift.Classifier {
	c, ok := s.classifiers[identityID]
	if !ok {
		c = drift.NewClassifier(s.config.Drift)
		s.classifiers[identityID] = c
	}
	return c
}

// #endregion commit-loop

// #region ensure-profile
// EnsureProfile returns the identity's current profile, creating the neutral
// initial version (and opening its first life phase) on first sight.
func (s *Service) EnsureProfile(ctx context.Context, identityID string) (persona.Profile, error) {
	var out persona.Profile
	err := s.serialize(ctx, func() error {
		var err error
		out, err = s.ensureProfileLocked(identityID)
		return err
	})
	return out, err
}

func (s *Service) ensureProfileLocked(identityID string) (persona.Profile, error) {
	profile, err := s.store.GetCurrent(identityID)
	if err == nil {
		return profile, nil
	}
	return s.store.CreateInitialProfile(identityID)
}

// #endregion ensure-profile

// #region record-action
// RecordAction runs one user action through the learning engine and the drift
// classifier, then commits the outcome: a new core version, an updated
// context overlay, or nothing but a provenance row.
func (s *Service) RecordAction(ctx context.Context, identityID string, action learning.Action) (drift.Decision, error) {
	var decision drift.Decision
	err := s.serialize(ctx, func() error {
		var err error
		decision, err = s.recordActionLocked(identityID, action)
		return err
	})
	return decision, err
}

func (s *Service) recordActionLocked(identityID string, action learning.Action) (drift.Decision, error) {
	profile, err := s.ensureProfileLocked(identityID)
	if err != nil {
		return drift.Decision{}, err
	}
	if action.OccurredAt.IsZero() {
		action.OccurredAt = time.Now().UTC()
	}

	result := learning.ApplyAction(profile, action, s.config.Learning)
	contextID, ctype := ClassifyContext(action)

	classifier := s.classifierFor(identityID)
	decision := classifier.Classify(result.Deltas, drift.SourceUser, contextID, action.OccurredAt)

	switch decision.Outcome {
	case drift.OutcomeCore:
		next := persona.Profile{
			VersionID:  uuid.New().String(),
			ParentID:   profile.VersionID,
			IdentityID: identityID,
			Dimensions: result.Dimensions,
			Confidence: result.Confidence,
			CreatedAt:  action.OccurredAt,
		}
		if res := audit.AuditProfile(next); !res.Passed {
			return decision, fmt.Errorf("audit refused version: %s", res.Reason)
		}
		if err := s.store.CommitProfile(next); err != nil {
			return decision, fmt.Errorf("commit version: %w", err)
		}
		s.recordChanges(classifier, result.Deltas, drift.SourceUser, action.OccurredAt)
		s.logDecision(next.VersionID, identityID, "user_action", drift.SourceUser, action, result, contextID, decision)
		return decision, nil

	case drift.OutcomeContext:
		if err := s.applyOverlay(identityID, profile, result, contextID, ctype, action.OccurredAt); err != nil {
			return decision, err
		}
		s.recordChanges(classifier, result.Deltas, drift.SourceUser, action.OccurredAt)
		s.logDecision(profile.VersionID, identityID, "user_action", drift.SourceUser, action, result, contextID, decision)
		return decision, nil

	default:
		s.logDecision(profile.VersionID, identityID, "user_action", drift.SourceUser, action, result, contextID, decision)
		return decision, nil
	}
}

// applyOverlay folds the learned deltas into the identity's overlay for the
// context, bounded against the current core. A single upsert keeps the write
// atomic.
func (s *Service) applyOverlay(identityID string, profile persona.Profile, result learning.Result, contextID string, ctype persona.ContextType, at time.Time) error {
	ov, err := s.store.GetContext(identityID, contextID)
	if err == sql.ErrNoRows {
		ov = persona.ContextOverlay{
			ContextID: contextID,
			Type:      ctype,
			Adapted:   profile.Dimensions,
		}
	} else if err != nil {
		return fmt.Errorf("load context %s: %w", contextID, err)
	}

	for d, delta := range result.Deltas {
		ov.Adapted[d] += delta
	}
	ov.AdaptationWeight += s.config.OverlayWeightStep
	ov.UpdatedAt = at
	ov = s.classifierFor(identityID).BoundOverlay(profile.Dimensions, ov)

	if err := s.store.UpsertContext(identityID, ov); err != nil {
		return fmt.Errorf("upsert context %s: %w", contextID, err)
	}
	return nil
}

func (s *Service) recordChanges(classifier *drift.Classifier, deltas map[persona.Dimension]float64, source drift.Source, at time.Time) {
	for d, delta := range deltas {
		classifier.Record(drift.Change{Dimension: d, Delta: delta, Source: source, At: at})
	}
}

func (s *Service) logDecision(versionID, identityID, trigger string, source drift.Source, action learning.Action, result learning.Result, contextID string, decision drift.Decision) {
	rec := provenance.ActionRecord{
		ActionType:            string(action.Type),
		Deltas:                make(map[string]float64, len(result.Deltas)),
		ContextID:             contextID,
		Authenticity:          decision.Authenticity,
		Consistency:           decision.Consistency,
		Velocity:              decision.Velocity,
		Clamped:               decision.Clamped,
		AuthenticityThreshold: s.config.Drift.AuthenticityThreshold,
		ConsistencyThreshold:  s.config.Drift.ConsistencyThreshold,
	}
	for d, delta := range result.Deltas {
		rec.Deltas[d.String()] = delta
	}
	signals, _ := json.Marshal(rec)

	err := provenance.LogDecision(s.store.DB(), provenance.Entry{
		VersionID:   versionID,
		IdentityID:  identityID,
		TriggerType: trigger,
		Source:      string(source),
		SignalsJSON: string(signals),
		Decision:    string(decision.Outcome),
		Reason:      decision.Reason,
	})
	if err != nil {
		log.Printf("[SVC] provenance write failed: %v", err)
	}
}

// #endregion record-action

// #region effective-personality
// GetEffectivePersonality returns the personality the rest of the app should
// act on: the core vector, or core blended with the named context overlay.
// An unknown context falls back to the core.
func (s *Service) GetEffectivePersonality(identityID, contextID string) (map[string]float64, error) {
	profile, err := s.store.GetCurrent(identityID)
	if err != nil {
		return nil, err
	}
	if contextID == "" {
		return profile.Dimensions.ToMap(), nil
	}
	ov, err := s.store.GetContext(identityID, contextID)
	if err == sql.ErrNoRows {
		return profile.Dimensions.ToMap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("context %s: %w", contextID, err)
	}
	return persona.Blend(profile.Dimensions, ov.Adapted, ov.AdaptationWeight).ToMap(), nil
}

// #endregion effective-personality

// #region payload
// BuildPayload derives the anonymized exchange payload for an identity.
func (s *Service) BuildPayload(ctx context.Context, identityID string) (anonymize.Payload, error) {
	var out anonymize.Payload
	err := s.serialize(ctx, func() error {
		profile, err := s.ensureProfileLocked(identityID)
		if err != nil {
			return err
		}
		authenticity := s.classifierFor(identityID).SelfAssessment(time.Now().UTC())
		out = s.builder.Build(profile, authenticity)
		return nil
	})
	return out, err
}

// Fingerprint returns the identity's salted fingerprint.
func (s *Service) Fingerprint(identityID string) string {
	return s.builder.Fingerprint(identityID)
}

// #endregion payload

// #region peer-discovered
// OnPeerDiscovered runs the full initiator pipeline for one discovered peer:
// admission gates, the encrypted exchange, then peer-influence application.
// Gate refusals are a clean no-op, not an error.
func (s *Service) OnPeerDiscovered(ctx context.Context, identityID, peerFingerprint, addr string) (ExchangeReport, error) {
	report := ExchangeReport{PeerFingerprint: peerFingerprint}
	now := time.Now().UTC()

	if peerFingerprint == "" || peerFingerprint == s.builder.Fingerprint(identityID) {
		report.Admission.Reason = "self or unidentified peer"
		return report, nil
	}

	// Backoff: stop dialing peers whose exchanges keep failing.
	rate, attempts, err := s.peers.SuccessRate(peerFingerprint)
	if err != nil {
		return report, err
	}
	if attempts >= s.config.BackoffMinAttempts && rate < s.config.BackoffMinSuccessRate {
		report.Admission.Reason = fmt.Sprintf("backoff: %d/%d exchanges failed", attempts-int(rate*float64(attempts)), attempts)
		return report, nil
	}

	// Gate 2 needs an alignment estimate; before a first completed exchange
	// there is none, so first contact is judged on trust and cooldown alone.
	compat, known, err := s.peers.LastCompatibility(peerFingerprint)
	if err != nil {
		return report, err
	}
	if !known {
		compat = 1.0
	}

	report.Admission, err = s.admission.Evaluate(peerFingerprint, compat, now)
	if err != nil {
		return report, err
	}
	if !report.Admission.Allowed {
		log.Printf("[SVC] exchange refused for %.8s: %s", peerFingerprint, report.Admission.Reason)
		return report, nil
	}

	local, err := s.BuildPayload(ctx, identityID)
	if err != nil {
		return report, err
	}

	runner, err := s.dial(addr)
	if err != nil {
		return report, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer runner.Close()

	runCtx, cancel := context.WithTimeout(ctx, s.config.ExchangeTimeout)
	defer cancel()
	result, err := runner.Run(runCtx, local.Fingerprint, local)
	if err != nil {
		// Failed exchanges cost trust and count against the backoff window.
		// Nothing was applied locally.
		if terr := s.trust.Penalize(peerFingerprint, s.config.TrustPenalty); terr != nil {
			log.Printf("[SVC] trust penalize failed: %v", terr)
		}
		if merr := s.peers.RecordOutcome(ExchangeOutcome{Fingerprint: peerFingerprint, CreatedAt: now}); merr != nil {
			log.Printf("[SVC] outcome record failed: %v", merr)
		}
		return report, fmt.Errorf("exchange with %.8s: %w", peerFingerprint, err)
	}

	report.Exchanged = true
	report.Compatibility = result.Compatibility
	s.admission.NoteExchange(peerFingerprint, now)

	report.Influence, err = s.ApplyPeerInfluence(ctx, identityID, peerFingerprint, result.Remote)
	if err != nil {
		return report, err
	}

	if err := s.trust.Reinforce(peerFingerprint, s.config.TrustReinforce); err != nil {
		log.Printf("[SVC] trust reinforce failed: %v", err)
	}
	if err := s.peers.RecordOutcome(ExchangeOutcome{
		Fingerprint:   peerFingerprint,
		Success:       true,
		Compatibility: result.Compatibility,
		Decision:      string(report.Influence.Outcome),
		CreatedAt:     now,
	}); err != nil {
		log.Printf("[SVC] outcome record failed: %v", err)
	}
	if err := s.insights.Record(insight.Insight{
		PeerFingerprint: peerFingerprint,
		Text: fmt.Sprintf("met a %s peer, compatibility %.2f, influence %s",
			result.Remote.Vibe.Archetype, result.Compatibility, report.Influence.Outcome),
		Compatibility: result.Compatibility,
	}); err != nil {
		log.Printf("[SVC] insight record failed: %v", err)
	}
	return report, nil
}

// #endregion peer-discovered

// #region peer-influence
// ApplyPeerInfluence folds a remote payload into the identity's personality.
// Peer influence never touches the core layer: the classifier either lands it
// as a bounded context overlay or resists it, and either way the decision is
// logged. The overlay write is a single upsert, so a cancelled exchange never
// half-applies.
func (s *Service) ApplyPeerInfluence(ctx context.Context, identityID, peerFingerprint string, remote anonymize.Payload) (drift.Decision, error) {
	var decision drift.Decision
	err := s.serialize(ctx, func() error {
		var err error
		decision, err = s.applyPeerInfluenceLocked(identityID, peerFingerprint, remote)
		return err
	})
	return decision, err
}

func (s *Service) applyPeerInfluenceLocked(identityID, peerFingerprint string, remote anonymize.Payload) (drift.Decision, error) {
	profile, err := s.ensureProfileLocked(identityID)
	if err != nil {
		return drift.Decision{}, err
	}
	now := time.Now().UTC()

	raw := anonymize.InfluenceDeltas(profile.Dimensions, remote.Vibe)
	action := learning.Action{
		Type:       learning.ActionPeerInfluence,
		OccurredAt: now,
		Meta:       learning.PeerInfluence{Deltas: raw},
	}
	result := learning.ApplyAction(profile, action, s.config.Learning)

	contextID := "peer:" + remote.Vibe.Archetype
	classifier := s.classifierFor(identityID)
	decision := classifier.Classify(result.Deltas, drift.SourcePeer, contextID, now)

	if decision.Outcome == drift.OutcomeContext {
		if err := s.applyOverlay(identityID, profile, result, contextID, persona.ContextSocial, now); err != nil {
			return decision, err
		}
		s.recordChanges(classifier, result.Deltas, drift.SourcePeer, now)
	}
	s.logDecision(profile.VersionID, identityID, "peer_exchange", drift.SourcePeer, action, result, contextID, decision)
	return decision, nil
}

// #endregion peer-influence

// #region transitions
// StartTransition marks the identity as entering a life-phase transition.
// Core learning continues as usual; CompleteTransition later snapshots the
// accumulated core into a new phase.
func (s *Service) StartTransition(ctx context.Context, identityID string) error {
	return s.serialize(ctx, func() error {
		if _, pending := s.transitions[identityID]; pending {
			return ErrTransitionPending
		}
		if _, err := s.ensureProfileLocked(identityID); err != nil {
			return err
		}
		s.transitions[identityID] = time.Now().UTC()
		return nil
	})
}

// DetectTransition reports whether the identity's recent accepted history
// looks like an authentic life-phase shift.
func (s *Service) DetectTransition(ctx context.Context, identityID string) (*drift.TransitionMetrics, error) {
	var metrics *drift.TransitionMetrics
	err := s.serialize(ctx, func() error {
		metrics = s.classifierFor(identityID).DetectTransition(time.Now().UTC())
		return nil
	})
	return metrics, err
}

// CompleteTransition atomically closes the open life phase and opens the next
// one with the current core as its snapshot. On storage failure nothing
// changes — in memory or on disk — and the call can simply be retried.
func (s *Service) CompleteTransition(ctx context.Context, identityID, phaseName string) (persona.LifePhase, error) {
	var phase persona.LifePhase
	err := s.serialize(ctx, func() error {
		if _, pending := s.transitions[identityID]; !pending {
			return ErrNoTransition
		}
		profile, err := s.ensureProfileLocked(identityID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()

		var metricsJSON string
		if m := s.classifierFor(identityID).DetectTransition(now); m != nil {
			b, _ := json.Marshal(m)
			metricsJSON = string(b)
		}

		next := persona.Profile{
			VersionID:   uuid.New().String(),
			ParentID:    profile.VersionID,
			IdentityID:  identityID,
			Dimensions:  profile.Dimensions,
			Confidence:  profile.Confidence,
			CreatedAt:   now,
			MetricsJSON: metricsJSON,
		}
		phase, err = s.store.CompletePhaseTransition(identityID, phaseName, next, now)
		if err != nil {
			// Transition state survives so the caller can retry.
			return fmt.Errorf("complete transition: %w", err)
		}
		delete(s.transitions, identityID)

		if perr := provenance.LogDecision(s.store.DB(), provenance.Entry{
			VersionID:   next.VersionID,
			IdentityID:  identityID,
			TriggerType: "transition",
			Decision:    "commit",
			Reason:      fmt.Sprintf("entered phase %q", phaseName),
		}); perr != nil {
			log.Printf("[SVC] provenance write failed: %v", perr)
		}

		// Post-commit audit of the whole phase log: ordered, non-overlapping,
		// one open phase.
		phases, err := s.store.ListPhases(identityID)
		if err != nil {
			return fmt.Errorf("audit phases: %w", err)
		}
		if res := audit.AuditPhases(phases); !res.Passed {
			log.Printf("[SVC] phase audit failed for %s: %s", identityID, res.Reason)
			return fmt.Errorf("phase audit failed: %s", res.Reason)
		}
		return nil
	})
	return phase, err
}

// TransitionPending reports whether StartTransition is awaiting completion.
func (s *Service) TransitionPending(ctx context.Context, identityID string) (bool, error) {
	var pending bool
	err := s.serialize(ctx, func() error {
		_, pending = s.transitions[identityID]
		return nil
	})
	return pending, err
}

// #endregion transitions
