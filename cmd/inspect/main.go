package main

// #region imports
import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/spots-social/ai2ai/internal/audit"
	"github.com/spots-social/ai2ai/internal/cipher"
	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/provenance"
)

// #endregion

// #region main

func main() {
	dbPath := flag.String("db", "", "path to persona.db")
	identity := flag.String("identity", "", "identity to inspect")
	last := flag.Int("last", 20, "show N most recent versions")
	phases := flag.Bool("phases", false, "show the life-phase log instead of versions")
	contexts := flag.Bool("contexts", false, "show context overlays instead of versions")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	export := flag.String("export", "", "write an encrypted timeline snapshot to this path")
	keyPath := flag.String("key", ".spots/persona.key", "key file for --export")
	flag.Parse()

	if *dbPath == "" || *identity == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/persona.db --identity id [--last N] [--phases] [--contexts] [--json] [--export path --key path]")
		os.Exit(2)
	}

	store, err := persona.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *export != "":
		err = runExport(store, *identity, *last, *keyPath, *export)
	case *phases:
		err = runPhaseMode(store, *identity, *jsonOut)
	case *contexts:
		err = runContextMode(store, *identity, *jsonOut)
	default:
		err = runTimelineMode(store, *identity, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region timeline-mode

type timelineRow struct {
	VersionID  string             `json:"version_id"`
	ParentID   string             `json:"parent_id,omitempty"`
	Decision   string             `json:"decision,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	CreatedAt  string             `json:"created_at"`
	Dimensions map[string]float64 `json:"dimensions"`
}

// timelineRows joins provenance decisions onto the version history, oldest
// first.
func timelineRows(store *persona.Store, identity string, last int) ([]timelineRow, error) {
	versions, err := store.ListVersions(identity, last)
	if err != nil {
		return nil, err
	}

	entries, err := provenance.ListRecent(store.DB(), identity, last*4)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]provenance.Entry)
	for _, e := range entries {
		if _, seen := byVersion[e.VersionID]; !seen {
			byVersion[e.VersionID] = e
		}
	}

	// Store returns DESC, reverse for chronological.
	rows := make([]timelineRow, len(versions))
	for i, v := range versions {
		row := timelineRow{
			VersionID:  v.VersionID,
			ParentID:   v.ParentID,
			CreatedAt:  v.CreatedAt.Format("2006-01-02T15:04:05Z"),
			Dimensions: v.Dimensions.ToMap(),
		}
		if e, ok := byVersion[v.VersionID]; ok {
			row.Decision = e.Decision
			row.Reason = e.Reason
		}
		rows[len(versions)-1-i] = row
	}
	return rows, nil
}

func runTimelineMode(store *persona.Store, identity string, last int, jsonOut bool) error {
	rows, err := timelineRows(store, identity, last)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		return nil
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-36s  %-8s  %-19s  %s\n", "Version", "Decision", "Time", "Reason")
	for _, r := range rows {
		fmt.Printf("%-36s  %-8s  %-19s  %s\n", r.VersionID, r.Decision, r.CreatedAt, r.Reason)
	}
	return nil
}

// #endregion timeline-mode

// #region phase-mode

type phaseRow struct {
	PhaseID   string             `json:"phase_id"`
	Name      string             `json:"name"`
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date,omitempty"`
	Core      map[string]float64 `json:"core"`
}

type phaseReport struct {
	Phases      []phaseRow `json:"phases"`
	AuditPassed bool       `json:"audit_passed"`
	AuditReason string     `json:"audit_reason,omitempty"`
}

func runPhaseMode(store *persona.Store, identity string, jsonOut bool) error {
	phases, err := store.ListPhases(identity)
	if err != nil {
		return err
	}
	if len(phases) == 0 {
		fmt.Fprintln(os.Stderr, "no phases found")
		return nil
	}

	rows := make([]phaseRow, len(phases))
	for i, p := range phases {
		rows[i] = phaseRow{
			PhaseID:   p.ID,
			Name:      p.Name,
			StartDate: p.StartDate.Format("2006-01-02"),
			Core:      p.Core.ToMap(),
		}
		if p.EndDate != nil {
			rows[i].EndDate = p.EndDate.Format("2006-01-02")
		}
	}
	res := audit.AuditPhases(phases)

	if jsonOut {
		return printJSON(phaseReport{Phases: rows, AuditPassed: res.Passed, AuditReason: res.Reason})
	}
	fmt.Printf("%-36s  %-16s  %-10s  %s\n", "Phase", "Name", "Start", "End")
	for _, r := range rows {
		end := r.EndDate
		if end == "" {
			end = "(open)"
		}
		fmt.Printf("%-36s  %-16s  %-10s  %s\n", r.PhaseID, r.Name, r.StartDate, end)
	}
	if res.Passed {
		fmt.Println("\naudit: ok")
	} else {
		fmt.Printf("\naudit: FAIL: %s\n", res.Reason)
	}
	return nil
}

// #endregion phase-mode

// #region context-mode

type contextRow struct {
	ContextID string             `json:"context_id"`
	Type      string             `json:"type"`
	Weight    float64            `json:"weight"`
	UpdatedAt string             `json:"updated_at"`
	Adapted   map[string]float64 `json:"adapted"`
}

func runContextMode(store *persona.Store, identity string, jsonOut bool) error {
	overlays, err := store.ListContexts(identity)
	if err != nil {
		return err
	}
	if len(overlays) == 0 {
		fmt.Fprintln(os.Stderr, "no context overlays found")
		return nil
	}

	rows := make([]contextRow, len(overlays))
	for i, ov := range overlays {
		rows[i] = contextRow{
			ContextID: ov.ContextID,
			Type:      string(ov.Type),
			Weight:    ov.AdaptationWeight,
			UpdatedAt: ov.UpdatedAt.Format("2006-01-02T15:04:05Z"),
			Adapted:   ov.Adapted.ToMap(),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-24s  %-12s  %6s  %s\n", "Context", "Type", "Weight", "Updated")
	for _, r := range rows {
		fmt.Printf("%-24s  %-12s  %6.2f  %s\n", r.ContextID, r.Type, r.Weight, r.UpdatedAt)
	}
	return nil
}

// #endregion context-mode

// #region export-mode

// runExport seals the timeline JSON with the identity key so snapshots leave
// the device encrypted at rest.
func runExport(store *persona.Store, identity string, last int, keyPath, outPath string) error {
	rows, err := timelineRows(store, identity, last)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no versions to export for %s", identity)
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key, err := cipher.EnsureKey(keyPath)
	if err != nil {
		return err
	}
	if err := cipher.SealFile(key, outPath, data); err != nil {
		return err
	}
	fmt.Printf("exported %d versions to %s\n", len(rows), outPath)
	return nil
}

// #endregion export-mode

// #region helpers

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
