package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// #region transport
// Transport wraps one Backend behind the capability-based discovery
// interface: advertise, scan, stop. Re-seen peers are coalesced by
// refreshing LastSeen instead of re-emitting; handles not seen within the
// TTL are discarded by a maintenance sweep.
type Transport struct {
	backend Backend
	config  Config

	mu      sync.Mutex
	handles map[string]PeerHandle
	scanErr error

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewTransport wraps a backend. Use SelectBackend for capability detection.
func NewTransport(backend Backend, config Config) *Transport {
	return &Transport{
		backend: backend,
		config:  config,
		handles: make(map[string]PeerHandle),
	}
}

// Backend returns the name of the active backend.
func (t *Transport) Backend() string {
	return t.backend.Name()
}

// #endregion transport

// #region select-backend
// SelectBackend picks the best available mechanism: mDNS when multicast is
// usable, the websocket signaling fallback when a server is configured, and
// otherwise a no-op that emits an empty stream rather than failing.
func SelectBackend(config Config) Backend {
	if !config.DisableMDNS && multicastAvailable() {
		return newMDNSBackend(config)
	}
	if config.SignalURL != "" {
		return newSignalBackend(config)
	}
	log.Printf("[DISC] no discovery mechanism available, degrading to no-op")
	return noopBackend{}
}

// multicastAvailable probes whether multicast UDP can be opened at all.
func multicastAvailable() bool {
	conn, err := net.ListenPacket("udp4", "224.0.0.0:0")
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// #endregion select-backend

// #region advertise
// StartAdvertising announces this node until ctx is done or Stop is called.
func (t *Transport) StartAdvertising(ctx context.Context, ad Advertisement) error {
	if err := t.backend.Advertise(ctx, ad); err != nil {
		return fmt.Errorf("advertise via %s: %w", t.backend.Name(), err)
	}
	return nil
}

// #endregion advertise

// #region scan
// StartScanning returns a live stream of peer handles. The channel closes on
// cancellation or on a terminal backend error; check Err afterwards. Backend
// initialization failures surface once as that terminal error — the caller
// decides whether to fix permissions and start a fresh scan.
func (t *Transport) StartScanning(ctx context.Context) (<-chan PeerHandle, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	raw := make(chan PeerHandle, 16)
	out := make(chan PeerHandle, 16)

	go func() {
		err := t.backend.Scan(scanCtx, raw)
		t.mu.Lock()
		t.scanErr = err
		t.mu.Unlock()
		close(raw)
	}()

	go func() {
		defer close(out)
		sweep := time.NewTicker(t.config.SweepInterval)
		defer sweep.Stop()
		for {
			select {
			case handle, ok := <-raw:
				if !ok {
					return
				}
				if fresh := t.coalesce(handle); fresh {
					select {
					case out <- handle:
					case <-scanCtx.Done():
						return
					}
				}
			case <-sweep.C:
				t.sweepStale()
			case <-scanCtx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Err reports the terminal scan error, if any, after the stream closed.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanErr
}

// Handles returns a snapshot of currently-known peers.
func (t *Transport) Handles() []PeerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerHandle, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h)
	}
	return out
}

// coalesce records a sighting. Returns true only for peers not currently
// known, so duplicates refresh LastSeen without re-emitting.
func (t *Transport) coalesce(handle PeerHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := t.handles[handle.TransportAddress]; ok {
		existing.LastSeen = now
		if handle.Fingerprint != "" {
			existing.Fingerprint = handle.Fingerprint
		}
		t.handles[handle.TransportAddress] = existing
		return false
	}
	handle.DiscoveredAt = now
	handle.LastSeen = now
	t.handles[handle.TransportAddress] = handle
	return true
}

// sweepStale drops handles past the TTL.
func (t *Transport) sweepStale() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().UTC().Add(-t.config.PeerTTL)
	for addr, h := range t.handles {
		if h.LastSeen.Before(cutoff) {
			delete(t.handles, addr)
		}
	}
}

// #endregion scan

// #region stop
// Stop cancels scanning and releases the underlying platform resource.
// Idempotent: the backend is closed exactly once.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if err := t.backend.Close(); err != nil {
			log.Printf("[DISC] backend close: %v", err)
		}
	})
}

// #endregion stop
