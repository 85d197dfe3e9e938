package trust

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS trust_edges (
    fingerprint  TEXT PRIMARY KEY,
    score        REAL NOT NULL DEFAULT 0.1,
    exchanges    INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);
`

// #endregion schema

// #region types
// Peer is one known peer with its accumulated trust.
type Peer struct {
	Fingerprint string
	Score       float64
	Exchanges   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store manages the trust_edges table. Peers are keyed by their anonymized
// fingerprint; no transport address or identity is ever stored here.
type Store struct {
	db *sql.DB
}

// #endregion types

// #region constructor
// NewStore creates the table and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("trust schema: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region reinforce
// Reinforce raises a peer's trust by delta, capped at 1.0. Unknown peers are
// created with score=delta.
func (s *Store) Reinforce(fingerprint string, delta float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO trust_edges (fingerprint, score, exchanges, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   score = MIN(1.0, trust_edges.score + ?),
		   exchanges = trust_edges.exchanges + 1,
		   updated_at = ?`,
		fingerprint, delta, now, now,
		delta, now,
	)
	return err
}

// Penalize lowers a known peer's trust by delta, floored at 0. Peers without
// a trust record are left alone; failed first contacts are handled by the
// exchange outcome backoff, not by seeding a zero-score edge that would trip
// the admission floor forever.
func (s *Store) Penalize(fingerprint string, delta float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`UPDATE trust_edges SET
		   score = MAX(0.0, score - ?),
		   exchanges = exchanges + 1,
		   updated_at = ?
		 WHERE fingerprint = ?`,
		delta, now, fingerprint,
	)
	return err
}

// #endregion reinforce

// #region score
// Score returns a peer's trust, or 0 for unknown peers.
func (s *Store) Score(fingerprint string) (float64, error) {
	var score float64
	err := s.db.QueryRow(
		`SELECT score FROM trust_edges WHERE fingerprint = ?`, fingerprint,
	).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("trust score: %w", err)
	}
	return score, nil
}

// Get returns a peer row and whether it exists.
func (s *Store) Get(fingerprint string) (Peer, bool, error) {
	var p Peer
	var createdAt, updatedAt string
	err := s.db.QueryRow(
		`SELECT fingerprint, score, exchanges, created_at, updated_at
		 FROM trust_edges WHERE fingerprint = ?`, fingerprint,
	).Scan(&p.Fingerprint, &p.Score, &p.Exchanges, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Peer{}, false, nil
	}
	if err != nil {
		return Peer{}, false, fmt.Errorf("get peer: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, true, nil
}

// Trusted returns all peers with score >= minScore, highest first.
func (s *Store) Trusted(minScore float64) ([]Peer, error) {
	rows, err := s.db.Query(
		`SELECT fingerprint, score, exchanges, created_at, updated_at
		 FROM trust_edges WHERE score >= ? ORDER BY score DESC`, minScore,
	)
	if err != nil {
		return nil, fmt.Errorf("trusted peers: %w", err)
	}
	defer rows.Close()

	var peers []Peer
	for rows.Next() {
		var p Peer
		var createdAt, updatedAt string
		if err := rows.Scan(&p.Fingerprint, &p.Score, &p.Exchanges, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// #endregion score

// #region decay
// DecayAll applies exponential decay based on time since last exchange.
// Peers that fall below 0.01 are forgotten entirely.
func (s *Store) DecayAll(halfLifeHours float64) (int64, error) {
	now := time.Now().UTC()
	halfLifeSec := halfLifeHours * 3600.0

	rows, err := s.db.Query(`SELECT fingerprint, score, updated_at FROM trust_edges`)
	if err != nil {
		return 0, err
	}

	type decayItem struct {
		fingerprint string
		newScore    float64
	}
	var updates []decayItem
	var deletes []string

	for rows.Next() {
		var fingerprint string
		var score float64
		var updatedAt string
		if err := rows.Scan(&fingerprint, &score, &updatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		t, _ := time.Parse(time.RFC3339, updatedAt)
		ageSec := now.Sub(t).Seconds()
		if ageSec <= 0 {
			continue
		}
		decayed := score * math.Exp(-ageSec*math.Ln2/halfLifeSec)
		if decayed < 0.01 {
			deletes = append(deletes, fingerprint)
		} else {
			updates = append(updates, decayItem{fingerprint, decayed})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("decay scan: %w", err)
	}

	nowStr := now.Format(time.RFC3339)
	for _, u := range updates {
		if _, err := s.db.Exec(`UPDATE trust_edges SET score = ?, updated_at = ? WHERE fingerprint = ?`, u.newScore, nowStr, u.fingerprint); err != nil {
			return 0, err
		}
	}
	for _, fingerprint := range deletes {
		if _, err := s.db.Exec(`DELETE FROM trust_edges WHERE fingerprint = ?`, fingerprint); err != nil {
			return 0, err
		}
	}

	return int64(len(deletes)), nil
}

// #endregion decay

// #region sever
// Sever forgets a peer entirely (block action from the application layer).
func (s *Store) Sever(fingerprint string) error {
	_, err := s.db.Exec(`DELETE FROM trust_edges WHERE fingerprint = ?`, fingerprint)
	return err
}

// #endregion sever
