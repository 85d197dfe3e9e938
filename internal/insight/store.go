package insight

// #region imports
import (
	"database/sql"
	"fmt"
	"time"
)

// #endregion imports

// #region types

// Insight holds one locally computed takeaway from a completed exchange.
type Insight struct {
	ID              int64
	PeerFingerprint string
	Text            string
	Compatibility   float64
	CreatedAt       time.Time
}

// #endregion types

// #region store

// Store persists exchange insights in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the insights table if needed and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS insights (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer_fingerprint TEXT NOT NULL,
		text TEXT NOT NULL,
		compatibility REAL NOT NULL,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create insights table: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion store

// #region record

// Record stores one insight.
func (s *Store) Record(ins Insight) error {
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO insights (peer_fingerprint, text, compatibility, created_at) VALUES (?, ?, ?, ?)`,
		ins.PeerFingerprint, ins.Text, ins.Compatibility, ins.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record insight: %w", err)
	}
	return nil
}

// #endregion record

// #region queries

// Recent returns the newest insights, most recent first.
func (s *Store) Recent(limit int) ([]Insight, error) {
	return s.query(
		`SELECT id, peer_fingerprint, text, compatibility, created_at
		 FROM insights ORDER BY id DESC LIMIT ?`, limit,
	)
}

// ForPeer returns insights from exchanges with one peer.
func (s *Store) ForPeer(fingerprint string, limit int) ([]Insight, error) {
	return s.query(
		`SELECT id, peer_fingerprint, text, compatibility, created_at
		 FROM insights WHERE peer_fingerprint = ? ORDER BY id DESC LIMIT ?`,
		fingerprint, limit,
	)
}

func (s *Store) query(q string, args ...any) ([]Insight, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var ins Insight
		var createdStr string
		if err := rows.Scan(&ins.ID, &ins.PeerFingerprint, &ins.Text, &ins.Compatibility, &createdStr); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		ins.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, ins)
	}
	return out, rows.Err()
}

// #endregion queries
