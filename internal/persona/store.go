package persona

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS persona_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	identity_id   TEXT NOT NULL,
	dimensions    BLOB NOT NULL,
	confidence    BLOB NOT NULL,
	created_at    TEXT NOT NULL,
	metrics_json  TEXT,
	FOREIGN KEY (parent_id) REFERENCES persona_versions(version_id)
);
CREATE INDEX IF NOT EXISTS idx_versions_identity ON persona_versions(identity_id);

CREATE TABLE IF NOT EXISTS active_state (
	identity_id   TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES persona_versions(version_id)
);

CREATE TABLE IF NOT EXISTS life_phases (
	phase_id      TEXT PRIMARY KEY,
	identity_id   TEXT NOT NULL,
	name          TEXT NOT NULL,
	core          BLOB NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT
);
CREATE INDEX IF NOT EXISTS idx_phases_identity ON life_phases(identity_id, start_date);

CREATE TABLE IF NOT EXISTS contexts (
	identity_id   TEXT NOT NULL,
	context_id    TEXT NOT NULL,
	context_type  TEXT NOT NULL,
	adapted       BLOB NOT NULL,
	weight        REAL NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (identity_id, context_id)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id    TEXT NOT NULL,
	identity_id   TEXT NOT NULL,
	trigger_type  TEXT NOT NULL,
	source        TEXT,
	signals_json  TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES persona_versions(version_id)
);
`

// #endregion schema

// ErrNoOpenPhase is returned when a transition commit finds no open phase.
var ErrNoOpenPhase = errors.New("no open life phase")

// ErrOpenPhaseExists is returned when opening a phase while one is open.
var ErrOpenPhaseExists = errors.New("an open life phase already exists")

// #region store-struct
// Store manages the versioned personality timeline in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for packages sharing the same database
// (trust, insight, provenance, peer memory).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region create-initial
// CreateInitialProfile creates the neutral first version for an identity and
// opens its first life phase.
func (s *Store) CreateInitialProfile(identityID string) (Profile, error) {
	now := time.Now().UTC()
	rec := Profile{
		VersionID:  uuid.New().String(),
		IdentityID: identityID,
		Dimensions: Neutral(),
		Confidence: Vector{}, // all zero: nothing observed yet
		CreatedAt:  now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Profile{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO persona_versions (version_id, parent_id, identity_id, dimensions, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.VersionID, nil, identityID,
		encodeVector(rec.Dimensions), encodeVector(rec.Confidence),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Profile{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_state (identity_id, version_id) VALUES (?, ?)
		 ON CONFLICT(identity_id) DO UPDATE SET version_id = excluded.version_id`,
		identityID, rec.VersionID,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("set active: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO life_phases (phase_id, identity_id, name, core, start_date, end_date)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		uuid.New().String(), identityID, "initial", encodeVector(rec.Dimensions),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Profile{}, fmt.Errorf("open initial phase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion create-initial

// #region get-current
// GetCurrent reads the active version for an identity.
func (s *Store) GetCurrent(identityID string) (Profile, error) {
	var versionID string
	err := s.db.QueryRow(
		`SELECT version_id FROM active_state WHERE identity_id = ?`, identityID,
	).Scan(&versionID)
	if err != nil {
		return Profile{}, fmt.Errorf("get active for %s: %w", identityID, err)
	}
	return s.GetVersion(versionID)
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific profile version by ID.
func (s *Store) GetVersion(id string) (Profile, error) {
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, identity_id, dimensions, confidence, created_at, metrics_json
		 FROM persona_versions WHERE version_id = ?`, id,
	)
	rec, err := scanProfile(row)
	if err != nil {
		return Profile{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-version

// #region commit-profile
// CommitProfile inserts a new version and moves the active pointer atomically.
func (s *Store) CommitProfile(rec Profile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertVersion(tx, rec); err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO active_state (identity_id, version_id) VALUES (?, ?)
		 ON CONFLICT(identity_id) DO UPDATE SET version_id = excluded.version_id`,
		rec.IdentityID, rec.VersionID,
	)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}

	return tx.Commit()
}

// #endregion commit-profile

// #region rollback
// Rollback moves the active pointer to a previous version of the identity.
func (s *Store) Rollback(identityID, targetVersionID string) error {
	var owner string
	err := s.db.QueryRow(
		`SELECT identity_id FROM persona_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&owner)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if owner != identityID {
		return fmt.Errorf("version %s does not belong to %s", targetVersionID, identityID)
	}

	_, err = s.db.Exec(
		`UPDATE active_state SET version_id = ? WHERE identity_id = ?`,
		targetVersionID, identityID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent versions for an identity, newest first.
func (s *Store) ListVersions(identityID string, limit int) ([]Profile, error) {
	rows, err := s.db.Query(
		`SELECT version_id, parent_id, identity_id, dimensions, confidence, created_at, metrics_json
		 FROM persona_versions WHERE identity_id = ? ORDER BY created_at DESC LIMIT ?`,
		identityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []Profile
	for rows.Next() {
		rec, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-versions

// #region phases
// OpenPhase returns the identity's open life phase.
func (s *Store) OpenPhase(identityID string) (LifePhase, error) {
	row := s.db.QueryRow(
		`SELECT phase_id, identity_id, name, core, start_date, end_date
		 FROM life_phases WHERE identity_id = ? AND end_date IS NULL`, identityID,
	)
	phase, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return LifePhase{}, ErrNoOpenPhase
	}
	if err != nil {
		return LifePhase{}, fmt.Errorf("open phase for %s: %w", identityID, err)
	}
	return phase, nil
}

// ListPhases returns the identity's life phases ordered by start date.
func (s *Store) ListPhases(identityID string) ([]LifePhase, error) {
	rows, err := s.db.Query(
		`SELECT phase_id, identity_id, name, core, start_date, end_date
		 FROM life_phases WHERE identity_id = ? ORDER BY start_date ASC`, identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	var phases []LifePhase
	for rows.Next() {
		phase, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phases = append(phases, phase)
	}
	return phases, rows.Err()
}

// CompletePhaseTransition is the single place an open life phase is ever
// closed. In one transaction it sets end_date on the open phase, opens the
// new phase with the accumulated core, commits the new profile version, and
// moves the active pointer. On any failure the database is untouched and the
// caller must keep its in-memory state unchanged.
func (s *Store) CompletePhaseTransition(identityID, newPhaseName string, newProfile Profile, at time.Time) (LifePhase, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return LifePhase{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE life_phases SET end_date = ? WHERE identity_id = ? AND end_date IS NULL`,
		at.UTC().Format(time.RFC3339Nano), identityID,
	)
	if err != nil {
		return LifePhase{}, fmt.Errorf("close phase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return LifePhase{}, ErrNoOpenPhase
	}

	next := LifePhase{
		ID:        uuid.New().String(),
		Name:      newPhaseName,
		Core:      newProfile.Dimensions,
		StartDate: at.UTC(),
	}
	_, err = tx.Exec(
		`INSERT INTO life_phases (phase_id, identity_id, name, core, start_date, end_date)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		next.ID, identityID, next.Name, encodeVector(next.Core),
		next.StartDate.Format(time.RFC3339Nano),
	)
	if err != nil {
		return LifePhase{}, fmt.Errorf("open phase: %w", err)
	}

	if err := insertVersion(tx, newProfile); err != nil {
		return LifePhase{}, err
	}
	_, err = tx.Exec(
		`INSERT INTO active_state (identity_id, version_id) VALUES (?, ?)
		 ON CONFLICT(identity_id) DO UPDATE SET version_id = excluded.version_id`,
		identityID, newProfile.VersionID,
	)
	if err != nil {
		return LifePhase{}, fmt.Errorf("update active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LifePhase{}, fmt.Errorf("commit transition: %w", err)
	}
	return next, nil
}

// #endregion phases

// #region contexts
// UpsertContext creates or refreshes a context overlay.
func (s *Store) UpsertContext(identityID string, ov ContextOverlay) error {
	if ov.UpdatedAt.IsZero() {
		ov.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO contexts (identity_id, context_id, context_type, adapted, weight, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity_id, context_id) DO UPDATE SET
		   context_type = excluded.context_type,
		   adapted = excluded.adapted,
		   weight = excluded.weight,
		   updated_at = excluded.updated_at`,
		identityID, ov.ContextID, string(ov.Type),
		encodeVector(ov.Adapted), ov.AdaptationWeight,
		ov.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert context %s: %w", ov.ContextID, err)
	}
	return nil
}

// GetContext fetches one context overlay. sql.ErrNoRows when absent.
func (s *Store) GetContext(identityID, contextID string) (ContextOverlay, error) {
	var ov ContextOverlay
	var typ string
	var blob []byte
	var updatedStr string
	err := s.db.QueryRow(
		`SELECT context_id, context_type, adapted, weight, updated_at
		 FROM contexts WHERE identity_id = ? AND context_id = ?`,
		identityID, contextID,
	).Scan(&ov.ContextID, &typ, &blob, &ov.AdaptationWeight, &updatedStr)
	if err != nil {
		return ContextOverlay{}, err
	}
	ov.Type = ContextType(typ)
	ov.Adapted = decodeVector(blob)
	ov.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return ov, nil
}

// ListContexts returns all overlays for an identity.
func (s *Store) ListContexts(identityID string) ([]ContextOverlay, error) {
	rows, err := s.db.Query(
		`SELECT context_id, context_type, adapted, weight, updated_at
		 FROM contexts WHERE identity_id = ? ORDER BY updated_at DESC`, identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []ContextOverlay
	for rows.Next() {
		var ov ContextOverlay
		var typ string
		var blob []byte
		var updatedStr string
		if err := rows.Scan(&ov.ContextID, &typ, &blob, &ov.AdaptationWeight, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		ov.Type = ContextType(typ)
		ov.Adapted = decodeVector(blob)
		ov.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		out = append(out, ov)
	}
	return out, rows.Err()
}

// #endregion contexts

// #region scan-helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var rec Profile
	var parentID sql.NullString
	var dimBlob, confBlob []byte
	var createdStr string
	var metricsJSON sql.NullString

	err := row.Scan(&rec.VersionID, &parentID, &rec.IdentityID, &dimBlob, &confBlob, &createdStr, &metricsJSON)
	if err != nil {
		return Profile{}, err
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	rec.Dimensions = decodeVector(dimBlob)
	rec.Confidence = decodeVector(confBlob)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if metricsJSON.Valid {
		rec.MetricsJSON = metricsJSON.String
	}
	return rec, nil
}

func scanPhase(row rowScanner) (LifePhase, error) {
	var phase LifePhase
	var identityID string
	var coreBlob []byte
	var startStr string
	var endStr sql.NullString

	err := row.Scan(&phase.ID, &identityID, &phase.Name, &coreBlob, &startStr, &endStr)
	if err != nil {
		return LifePhase{}, err
	}
	phase.Core = decodeVector(coreBlob)
	phase.StartDate, _ = time.Parse(time.RFC3339Nano, startStr)
	if endStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endStr.String)
		phase.EndDate = &t
	}
	return phase, nil
}

func insertVersion(tx *sql.Tx, rec Profile) error {
	var parentPtr any
	if rec.ParentID != "" {
		parentPtr = rec.ParentID
	}
	var metricsPtr any
	if rec.MetricsJSON != "" {
		metricsPtr = rec.MetricsJSON
	}
	_, err := tx.Exec(
		`INSERT INTO persona_versions (version_id, parent_id, identity_id, dimensions, confidence, created_at, metrics_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, parentPtr, rec.IdentityID,
		encodeVector(rec.Dimensions), encodeVector(rec.Confidence),
		rec.CreatedAt.Format(time.RFC3339Nano), metricsPtr,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// #endregion scan-helpers

// #region vector-encoding
func encodeVector(v Vector) []byte {
	buf := make([]byte, NumDimensions*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) Vector {
	var v Vector
	for i := range v {
		if i*8+8 <= len(b) {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
	}
	return v
}

// #endregion vector-encoding
