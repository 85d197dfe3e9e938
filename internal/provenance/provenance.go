package provenance

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(db *sql.DB, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (version_id, identity_id, trigger_type, source, signals_json, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.VersionID,
		entry.IdentityID,
		entry.TriggerType,
		nullIfEmpty(entry.Source),
		nullIfEmpty(entry.SignalsJSON),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region list-recent
// ListRecent returns the newest provenance entries for an identity.
func ListRecent(db *sql.DB, identityID string, limit int) ([]Entry, error) {
	rows, err := db.Query(
		`SELECT version_id, identity_id, trigger_type, source, signals_json, decision, reason, created_at
		 FROM provenance_log WHERE identity_id = ? ORDER BY id DESC LIMIT ?`,
		identityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var source, signalsJSON, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.VersionID, &e.IdentityID, &e.TriggerType, &source, &signalsJSON, &e.Decision, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		e.Source = source.String
		e.SignalsJSON = signalsJSON.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion list-recent

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
