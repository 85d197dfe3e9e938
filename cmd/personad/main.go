package main

// #region imports
import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/spots-social/ai2ai/internal/anonymize"
	"github.com/spots-social/ai2ai/internal/cipher"
	"github.com/spots-social/ai2ai/internal/discovery"
	"github.com/spots-social/ai2ai/internal/exchange"
	"github.com/spots-social/ai2ai/internal/persona"
	"github.com/spots-social/ai2ai/internal/service"
)

// #endregion

// #region config

type daemonConfig struct {
	IdentityID string `yaml:"identity_id"`
	DBPath     string `yaml:"db_path"`
	KeyPath    string `yaml:"key_path"`
	ListenAddr string `yaml:"listen_addr"`

	Discovery struct {
		ServiceName string `yaml:"service_name"`
		SignalURL   string `yaml:"signal_url"`
		DisableMDNS bool   `yaml:"disable_mdns"`
		PeerTTLSec  int    `yaml:"peer_ttl_seconds"`
	} `yaml:"discovery"`
}

// loadConfig reads the YAML config when present and layers env overrides on
// top, so the daemon also runs with no file at all.
func loadConfig(path string) (daemonConfig, error) {
	var cfg daemonConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.IdentityID = envOr("SPOTS_IDENTITY", cfg.IdentityID)
	cfg.DBPath = envOr("SPOTS_DB", cfg.DBPath)
	cfg.KeyPath = envOr("SPOTS_KEY", cfg.KeyPath)
	cfg.ListenAddr = envOr("SPOTS_LISTEN", cfg.ListenAddr)
	cfg.Discovery.SignalURL = envOr("SPOTS_SIGNAL_URL", cfg.Discovery.SignalURL)

	if cfg.IdentityID == "" {
		return cfg, fmt.Errorf("identity_id is required (config or SPOTS_IDENTITY)")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "persona.db"
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = ".spots/persona.key"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":50061"
	}
	return cfg, nil
}

func (c daemonConfig) discoveryConfig() discovery.Config {
	dc := discovery.DefaultConfig()
	if c.Discovery.ServiceName != "" {
		dc.ServiceName = c.Discovery.ServiceName
	}
	if c.Discovery.PeerTTLSec > 0 {
		dc.PeerTTL = time.Duration(c.Discovery.PeerTTLSec) * time.Second
	}
	dc.SignalURL = c.Discovery.SignalURL
	dc.DisableMDNS = c.Discovery.DisableMDNS
	return dc
}

// #endregion config

// #region main
func main() {
	configPath := flag.String("config", envOr("SPOTS_CONFIG", ""), "path to personad.yaml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persona.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	salt, err := cipher.EnsureKey(cfg.KeyPath)
	if err != nil {
		log.Fatalf("fingerprint key: %v", err)
	}

	svc, err := service.New(store, salt, nil, service.DefaultConfig())
	if err != nil {
		log.Fatalf("service: %v", err)
	}
	defer svc.Close()

	if _, err := svc.EnsureProfile(ctx, cfg.IdentityID); err != nil {
		log.Fatalf("ensure profile: %v", err)
	}
	fingerprint := svc.Fingerprint(cfg.IdentityID)

	log.Printf("[MAIN] personad up: db=%s listen=%s fp=%.8s", cfg.DBPath, cfg.ListenAddr, fingerprint)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return runExchangeServer(ctx, cfg, svc, fingerprint) })
	g.Go(func() error { return runDiscovery(ctx, cfg, svc, fingerprint) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("[MAIN] %v", err)
	}
	log.Printf("[MAIN] personad stopped")
}

// #endregion main

// #region exchange-server
// runExchangeServer serves the responder side of the AI2AI protocol.
func runExchangeServer(ctx context.Context, cfg daemonConfig, svc *service.Service, fingerprint string) error {
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	provider := func(ctx context.Context) (anonymize.Payload, error) {
		return svc.BuildPayload(ctx, cfg.IdentityID)
	}
	// Responder-side influence application. The hook must not block the RPC,
	// so the write goes through the commit loop on its own goroutine.
	hook := func(peerFingerprint string, remote anonymize.Payload) {
		go func() {
			applyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			decision, err := svc.ApplyPeerInfluence(applyCtx, cfg.IdentityID, peerFingerprint, remote)
			if err != nil {
				log.Printf("[MAIN] responder influence: %v", err)
				return
			}
			log.Printf("[MAIN] responder influence from %.8s: %s", peerFingerprint, decision.Outcome)
		}()
	}

	gs := grpc.NewServer()
	exchange.NewServer(fingerprint, provider, hook).Register(gs)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	if err := gs.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// #endregion exchange-server

// #region discovery-loop
// runDiscovery advertises this node, consumes the coalesced peer stream, and
// feeds each fresh handle into the exchange pipeline.
func runDiscovery(ctx context.Context, cfg daemonConfig, svc *service.Service, fingerprint string) error {
	dc := cfg.discoveryConfig()
	transport := discovery.NewTransport(discovery.SelectBackend(dc), dc)
	defer transport.Stop()

	log.Printf("[MAIN] discovery backend: %s", transport.Backend())

	ad := discovery.Advertisement{
		InstanceName: "spots-" + fingerprint[:8],
		Port:         listenPort(cfg.ListenAddr),
		Fingerprint:  fingerprint,
	}
	if err := transport.StartAdvertising(ctx, ad); err != nil {
		log.Printf("[MAIN] advertising unavailable: %v", err)
	}

	peers, err := transport.StartScanning(ctx)
	if err != nil {
		return fmt.Errorf("start scanning: %w", err)
	}

	for handle := range peers {
		report, err := svc.OnPeerDiscovered(ctx, cfg.IdentityID, handle.Fingerprint, handle.TransportAddress)
		if err != nil {
			log.Printf("[MAIN] exchange with %s failed: %v", handle.TransportAddress, err)
			continue
		}
		if report.Exchanged {
			log.Printf("[MAIN] exchanged with %.8s: compat=%.2f influence=%s",
				report.PeerFingerprint, report.Compatibility, report.Influence.Outcome)
		}
	}

	if err := transport.Err(); err != nil {
		return fmt.Errorf("discovery stream: %w", err)
	}
	return ctx.Err()
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// #endregion discovery-loop

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
