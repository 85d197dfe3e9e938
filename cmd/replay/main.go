package main

// #region imports
import (
	"flag"
	"fmt"
	"os"

	"github.com/spots-social/ai2ai/internal/replay"
)

// #endregion

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to replay fixture JSON")
	verbose := flag.Bool("v", false, "print every action's decision")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/session.json [-v]")
		os.Exit(2)
	}

	f, err := replay.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	start := f.StartProfile.ToProfile()
	config := f.Config.ToReplayConfig()

	interactions := make([]replay.Interaction, len(f.Actions))
	for i := range f.Actions {
		inter, err := f.Actions[i].ToInteraction()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		interactions[i] = inter
	}

	results, final := replay.Replay(start, interactions, config)

	mismatches := 0
	expected := make(map[string]string, len(f.Expected))
	for _, e := range f.Expected {
		expected[e.ID] = e.Outcome
	}
	for _, r := range results {
		want, ok := expected[r.ID]
		match := !ok || want == string(r.Outcome)
		if !match {
			mismatches++
		}
		if *verbose || !match {
			marker := " "
			if !match {
				marker = "!"
			}
			fmt.Printf("%s %-12s  %-8s  %s\n", marker, r.ID, r.Outcome, r.Reason)
		}
	}

	summary := replay.Summarize(results, final)
	fmt.Printf("\n%d actions: %d core, %d context, %d resisted\n",
		summary.TotalActions, summary.CoreCommits, summary.ContextUpdates, summary.Resists)

	if mismatches > 0 {
		fmt.Fprintf(os.Stderr, "%d decisions diverged from the fixture\n", mismatches)
		os.Exit(1)
	}
}

// #endregion main
