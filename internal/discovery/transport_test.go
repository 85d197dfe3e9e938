package discovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// #region fake-backend
// fakeBackend feeds scripted handles into the scan channel and counts Close
// calls.
type fakeBackend struct {
	handles    []PeerHandle
	scanErr    error
	closeCount atomic.Int32
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Advertise(ctx context.Context, ad Advertisement) error { return nil }

func (f *fakeBackend) Scan(ctx context.Context, found chan<- PeerHandle) error {
	for _, h := range f.handles {
		select {
		case found <- h:
		case <-ctx.Done():
			return nil
		}
	}
	if f.scanErr != nil {
		return f.scanErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeBackend) Close() error {
	f.closeCount.Add(1)
	return nil
}

// #endregion fake-backend

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.PeerTTL = 50 * time.Millisecond
	return cfg
}

func collect(t *testing.T, ch <-chan PeerHandle, want int, timeout time.Duration) []PeerHandle {
	t.Helper()
	var got []PeerHandle
	deadline := time.After(timeout)
	for len(got) < want {
		select {
		case h, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, h)
		case <-deadline:
			return got
		}
	}
	return got
}

func TestScanCoalescesDuplicates(t *testing.T) {
	backend := &fakeBackend{handles: []PeerHandle{
		{TransportAddress: "10.0.0.1:50061", Fingerprint: "aa"},
		{TransportAddress: "10.0.0.1:50061", Fingerprint: "aa"},
		{TransportAddress: "10.0.0.1:50061", Fingerprint: "aa"},
		{TransportAddress: "10.0.0.2:50061", Fingerprint: "bb"},
	}}
	transport := NewTransport(backend, testConfig())
	defer transport.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	peers, err := transport.StartScanning(ctx)
	if err != nil {
		t.Fatalf("StartScanning: %v", err)
	}

	got := collect(t, peers, 2, time.Second)
	if len(got) != 2 {
		t.Fatalf("emitted %d handles, want 2 (duplicates coalesced)", len(got))
	}
	if got[0].TransportAddress == got[1].TransportAddress {
		t.Fatalf("same address emitted twice: %+v", got)
	}

	// Both sightings stay known; the duplicate refreshed LastSeen.
	if known := transport.Handles(); len(known) != 2 {
		t.Fatalf("known handles = %d, want 2", len(known))
	}
}

func TestStaleHandlesSwept(t *testing.T) {
	backend := &fakeBackend{handles: []PeerHandle{
		{TransportAddress: "10.0.0.1:50061", Fingerprint: "aa"},
	}}
	transport := NewTransport(backend, testConfig())
	defer transport.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	peers, err := transport.StartScanning(ctx)
	if err != nil {
		t.Fatalf("StartScanning: %v", err)
	}
	if got := collect(t, peers, 1, time.Second); len(got) != 1 {
		t.Fatalf("emitted %d handles, want 1", len(got))
	}

	// No re-sighting within the TTL: the sweep forgets the peer.
	deadline := time.After(time.Second)
	for len(transport.Handles()) > 0 {
		select {
		case <-deadline:
			t.Fatalf("handle not swept, still known: %+v", transport.Handles())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTerminalScanErrorSurfacesViaErr(t *testing.T) {
	backend := &fakeBackend{scanErr: context.DeadlineExceeded}
	transport := NewTransport(backend, testConfig())
	defer transport.Stop()

	peers, err := transport.StartScanning(context.Background())
	if err != nil {
		t.Fatalf("StartScanning: %v", err)
	}

	// Stream closes on the terminal error; Err reports it afterwards.
	for range peers {
	}
	if transport.Err() != context.DeadlineExceeded {
		t.Fatalf("Err = %v, want DeadlineExceeded", transport.Err())
	}
}

func TestStopIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	transport := NewTransport(backend, testConfig())

	ctx := context.Background()
	if _, err := transport.StartScanning(ctx); err != nil {
		t.Fatalf("StartScanning: %v", err)
	}

	// A second Stop racing the first must not double-close the backend.
	done := make(chan struct{})
	go func() {
		transport.Stop()
		close(done)
	}()
	transport.Stop()
	<-done
	transport.Stop()

	if got := backend.closeCount.Load(); got != 1 {
		t.Fatalf("backend closed %d times, want exactly 1", got)
	}
}

func TestNoopBackendDegradesGracefully(t *testing.T) {
	transport := NewTransport(noopBackend{}, testConfig())
	defer transport.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	peers, err := transport.StartScanning(ctx)
	if err != nil {
		t.Fatalf("StartScanning: %v", err)
	}

	cancel()
	for range peers {
		t.Fatal("noop backend emitted a handle")
	}
	if transport.Err() != nil {
		t.Fatalf("noop backend errored: %v", transport.Err())
	}
}
