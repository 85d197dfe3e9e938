package main

// #region imports
import (
	"flag"
	"fmt"
	"os"

	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/replay"
)

// #endregion

// #region main

func main() {
	dbPath := flag.String("db", "", "path to persona.db")
	identity := flag.String("identity", "", "identity to export")
	last := flag.Int("last", 50, "export N most recent decisions")
	out := flag.String("out", "session.json", "output fixture path")
	flag.Parse()

	if *dbPath == "" || *identity == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/persona.db --identity id [--last N] [--out file]")
		os.Exit(2)
	}

	store, err := persona.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// The fixture replays forward from the oldest exported decision, so the
	// start profile is the version that decision's parent pointed at. Using
	// the current profile would replay already-applied changes twice; instead
	// walk back to the earliest retained version.
	versions, err := store.ListVersions(*identity, *last+1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list versions: %v\n", err)
		os.Exit(1)
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no versions found")
		os.Exit(1)
	}
	start := versions[len(versions)-1]

	f, err := replay.ExportFromProvenance(store.DB(), start, *identity, *last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
	if err := f.Save(*out); err != nil {
		fmt.Fprintf(os.Stderr, "save: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d actions to %s\n", len(f.Actions), *out)
}

// #endregion main
