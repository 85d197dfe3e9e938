package audit

import (
	"fmt"
	"strings"

	"github.com/spots-social/ai2ai/internal/persona"
)

// #region types
// Metric captures a single invariant check result.
type Metric struct {
	Name  string
	Value float64
	Pass  bool
}

// Result is the output of a post-commit audit.
type Result struct {
	Passed  bool
	Metrics []Metric
	Reason  string
}

// #endregion types

// #region audit-profile
// AuditProfile validates the bounds invariants of a committed profile:
// every dimension and every confidence value in [0, 1].
func AuditProfile(profile persona.Profile) Result {
	var metrics []Metric
	passed := true
	var failReasons []string

	for i, v := range profile.Dimensions {
		ok := v >= 0 && v <= 1
		metrics = append(metrics, Metric{
			Name:  "dim_" + persona.Dimension(i).String(),
			Value: v,
			Pass:  ok,
		})
		if !ok {
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("%s value %.4f out of [0,1]", persona.Dimension(i), v))
		}
	}
	for i, v := range profile.Confidence {
		if v >= 0 && v <= 1 {
			continue
		}
		passed = false
		metrics = append(metrics, Metric{
			Name:  "conf_" + persona.Dimension(i).String(),
			Value: v,
			Pass:  false,
		})
		failReasons = append(failReasons, fmt.Sprintf("%s confidence %.4f out of [0,1]", persona.Dimension(i), v))
	}

	return Result{Passed: passed, Metrics: metrics, Reason: strings.Join(failReasons, "; ")}
}

// #endregion audit-profile

// #region audit-phases
// AuditPhases validates the life-phase log: strictly time-ordered,
// non-overlapping, at most one open phase.
func AuditPhases(phases []persona.LifePhase) Result {
	var metrics []Metric
	passed := true
	var failReasons []string

	open := 0
	for i, p := range phases {
		if p.Open() {
			open++
			continue
		}
		if p.EndDate.Before(p.StartDate) {
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("phase %s ends before it starts", p.ID))
		}
		if i+1 < len(phases) && phases[i+1].StartDate.Before(*p.EndDate) {
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("phase %s overlaps its successor", p.ID))
		}
	}
	for i := 1; i < len(phases); i++ {
		if !phases[i].StartDate.After(phases[i-1].StartDate) {
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("phase %s not strictly after predecessor", phases[i].ID))
		}
	}
	metrics = append(metrics, Metric{Name: "open_phases", Value: float64(open), Pass: open <= 1})
	if open > 1 {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("%d open phases, expected at most 1", open))
	}

	return Result{Passed: passed, Metrics: metrics, Reason: strings.Join(failReasons, "; ")}
}

// #endregion audit-phases
