package discovery

import (
	"context"
	"time"
)

// #region peer-handle
// PeerHandle is an ephemeral pointer to a reachable peer. It carries only
// the opaque transport address and the peer's advertised fingerprint —
// never identity.
type PeerHandle struct {
	TransportAddress string
	Fingerprint      string
	DiscoveredAt     time.Time
	LastSeen         time.Time
}

// #endregion peer-handle

// #region advertisement
// Advertisement is what a node announces about itself.
type Advertisement struct {
	InstanceName string
	Port         int
	Fingerprint  string
}

// #endregion advertisement

// #region backend
// Backend is one platform discovery mechanism (mDNS, signaling fallback, or
// the no-op stub). Scan blocks until ctx is done or a terminal error occurs;
// it must not retry initialization failures silently.
type Backend interface {
	Name() string
	Advertise(ctx context.Context, ad Advertisement) error
	Scan(ctx context.Context, found chan<- PeerHandle) error
	Close() error
}

// #endregion backend

// #region config
// Config holds transport parameters.
type Config struct {
	ServiceName   string        // mDNS service type
	PeerTTL       time.Duration // discard handles not re-seen within this
	SweepInterval time.Duration // stale-handle maintenance cadence
	QueryInterval time.Duration // mDNS re-query cadence
	SignalURL     string        // websocket signaling server ("" = none)
	DisableMDNS   bool          // force the fallback chain (web-like contexts)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:   "_spots-ai2ai._tcp",
		PeerTTL:       5 * time.Minute,
		SweepInterval: 30 * time.Second,
		QueryInterval: 15 * time.Second,
	}
}

// #endregion config
