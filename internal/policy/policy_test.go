package policy

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spots-social/ai2ai/internal/trust"
)

func testAdmission(t *testing.T, config Config) (*Admission, *trust.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := trust.NewStore(db)
	if err != nil {
		t.Fatalf("trust store: %v", err)
	}
	return NewAdmission(store, config), store
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFirstContactAdmitted(t *testing.T) {
	a, _ := testAdmission(t, DefaultConfig())

	dec, err := a.Evaluate("fresh-peer", 0.8, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.Allowed || !dec.Gate1Passed || !dec.Gate2Passed || !dec.Gate3Passed {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestFirstContactDisabled(t *testing.T) {
	config := DefaultConfig()
	config.AllowFirstContact = false
	a, _ := testAdmission(t, config)

	dec, err := a.Evaluate("fresh-peer", 0.8, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed || dec.Gate1Passed {
		t.Fatalf("unknown peer admitted: %+v", dec)
	}
	if !strings.Contains(dec.Reason, "gate1") {
		t.Fatalf("reason = %q, want gate1", dec.Reason)
	}
}

func TestLowTrustRefused(t *testing.T) {
	a, store := testAdmission(t, DefaultConfig())
	store.Reinforce("shady", 0.02)

	dec, _ := a.Evaluate("shady", 0.9, now)
	if dec.Allowed || dec.Gate1Passed {
		t.Fatalf("low-trust peer admitted: %+v", dec)
	}
}

func TestLowCompatibilityRefused(t *testing.T) {
	a, _ := testAdmission(t, DefaultConfig())

	dec, _ := a.Evaluate("fresh-peer", 0.1, now)
	if dec.Allowed || dec.Gate2Passed {
		t.Fatalf("incompatible peer admitted: %+v", dec)
	}
	if !strings.Contains(dec.Reason, "gate2") {
		t.Fatalf("reason = %q, want gate2", dec.Reason)
	}
}

func TestCooldownApplies(t *testing.T) {
	a, _ := testAdmission(t, DefaultConfig())
	a.NoteExchange("peer-a", now.Add(-10*time.Minute))

	dec, _ := a.Evaluate("peer-a", 0.8, now)
	if dec.Allowed || dec.Gate3Passed {
		t.Fatalf("peer admitted inside cooldown: %+v", dec)
	}

	dec, _ = a.Evaluate("peer-a", 0.8, now.Add(time.Hour))
	if !dec.Allowed {
		t.Fatalf("peer refused after cooldown: %+v", dec)
	}
}

func TestAlwaysExchangeSkipsGates1And2(t *testing.T) {
	config := DefaultConfig()
	config.AlwaysExchange = true
	config.AllowFirstContact = false
	a, _ := testAdmission(t, config)

	dec, _ := a.Evaluate("anyone", 0.0, now)
	if !dec.Allowed {
		t.Fatalf("AlwaysExchange still refused: %+v", dec)
	}

	// Gate 3 still applies even in debug mode.
	a.NoteExchange("anyone", now)
	dec, _ = a.Evaluate("anyone", 0.0, now.Add(time.Minute))
	if dec.Allowed {
		t.Fatalf("cooldown bypassed: %+v", dec)
	}
}
