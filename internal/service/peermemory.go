package service

// #region imports
import (
	"database/sql"
	"fmt"
	"time"
)

// #endregion

// #region schema

const exchangeOutcomesSchema = `
CREATE TABLE IF NOT EXISTS exchange_outcomes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    fingerprint   TEXT NOT NULL,
    success       INTEGER NOT NULL DEFAULT 0,
    compatibility REAL NOT NULL DEFAULT 0,
    decision      TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);
`

const exchangeOutcomesIndex = `
CREATE INDEX IF NOT EXISTS idx_exchange_outcomes_peer
ON exchange_outcomes(fingerprint, id);
`

// #endregion

// #region memory-struct

// PeerMemory persists per-peer exchange outcomes in SQLite. The service uses
// it to back off from peers whose exchanges keep failing.
type PeerMemory struct {
	db *sql.DB
}

// NewPeerMemory initializes the exchange_outcomes table and returns a PeerMemory.
func NewPeerMemory(db *sql.DB) (*PeerMemory, error) {
	if _, err := db.Exec(exchangeOutcomesSchema); err != nil {
		return nil, err
	}
	if _, err := db.Exec(exchangeOutcomesIndex); err != nil {
		return nil, err
	}
	return &PeerMemory{db: db}, nil
}

// #endregion

// #region outcome

// ExchangeOutcome is one recorded attempt against one peer.
type ExchangeOutcome struct {
	Fingerprint   string
	Success       bool
	Compatibility float64
	Decision      string // drift outcome when the exchange completed
	CreatedAt     time.Time
}

// RecordOutcome persists a single exchange outcome row.
func (m *PeerMemory) RecordOutcome(rec ExchangeOutcome) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := m.db.Exec(`
		INSERT INTO exchange_outcomes (fingerprint, success, compatibility, decision, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Fingerprint, success, rec.Compatibility, rec.Decision,
		rec.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// #endregion

// #region success-rate

// SuccessRate returns the peer's success fraction over its recorded attempts,
// plus the attempt count. (0, 0, nil) for never-seen peers.
func (m *PeerMemory) SuccessRate(fingerprint string) (float64, int, error) {
	var total, succeeded int
	err := m.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0)
		FROM exchange_outcomes WHERE fingerprint = ?`, fingerprint,
	).Scan(&total, &succeeded)
	if err != nil {
		return 0, 0, fmt.Errorf("success rate: %w", err)
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(succeeded) / float64(total), total, nil
}

// LastCompatibility returns the most recent successful exchange's
// compatibility score. (0, false, nil) when no successful exchange exists.
func (m *PeerMemory) LastCompatibility(fingerprint string) (float64, bool, error) {
	var compat float64
	err := m.db.QueryRow(`
		SELECT compatibility FROM exchange_outcomes
		WHERE fingerprint = ? AND success = 1
		ORDER BY id DESC LIMIT 1`, fingerprint,
	).Scan(&compat)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last compatibility: %w", err)
	}
	return compat, true, nil
}

// #endregion
