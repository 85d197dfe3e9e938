package main

// #region imports
import (
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/trust"
)

// #endregion

// #region peer-list

// peerList is the YAML seed file: fingerprints of peers the user already
// trusts out of band (their own other devices, close friends' nodes).
type peerList struct {
	Peers []seedPeer `yaml:"peers"`
}

type seedPeer struct {
	Fingerprint string  `yaml:"fingerprint"`
	Score       float64 `yaml:"score"`
}

// #endregion peer-list

// #region main
func main() {
	dbPath := flag.String("db", envOr("SPOTS_DB", "persona.db"), "path to persona.db")
	peersPath := flag.String("peers", "peers.yaml", "path to the seed peer list")
	decayHalfLife := flag.Float64("decay", 0, "also run trust decay with this half-life in hours")
	flag.Parse()

	fmt.Println("=== Trust Bootstrap Tool ===")
	fmt.Printf("  DB: %s | Peers: %s\n", *dbPath, *peersPath)

	store, err := persona.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	trustStore, err := trust.NewStore(store.DB())
	if err != nil {
		log.Fatalf("failed to init trust store: %v", err)
	}

	data, err := os.ReadFile(*peersPath)
	if err != nil {
		log.Fatalf("read peer list: %v", err)
	}
	var list peerList
	if err := yaml.Unmarshal(data, &list); err != nil {
		log.Fatalf("parse peer list: %v", err)
	}

	seeded := 0
	for _, p := range list.Peers {
		if p.Fingerprint == "" {
			continue
		}
		score := p.Score
		if score <= 0 {
			score = 0.5
		}
		if err := trustStore.Reinforce(p.Fingerprint, score); err != nil {
			log.Printf("seed error for %.8s: %v", p.Fingerprint, err)
			continue
		}
		seeded++
	}
	fmt.Printf("seeded %d trust edges\n", seeded)

	if *decayHalfLife > 0 {
		forgotten, err := trustStore.DecayAll(*decayHalfLife)
		if err != nil {
			log.Fatalf("decay: %v", err)
		}
		fmt.Printf("decay pass: forgot %d stale peers\n", forgotten)
	}
}

// #endregion main

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
