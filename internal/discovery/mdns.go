package discovery

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// #region mdns-backend
// mdnsBackend advertises and browses the local network via multicast DNS.
type mdnsBackend struct {
	config Config

	mu     sync.Mutex
	server *mdns.Server
}

func newMDNSBackend(config Config) *mdnsBackend {
	return &mdnsBackend{config: config}
}

func (b *mdnsBackend) Name() string { return "mdns" }

// #endregion mdns-backend

// #region mdns-advertise
// Advertise registers the mDNS service. The fingerprint travels in a TXT
// field so scanners can gate on trust before dialing.
func (b *mdnsBackend) Advertise(ctx context.Context, ad Advertisement) error {
	service, err := mdns.NewMDNSService(
		ad.InstanceName, b.config.ServiceName, "", "", ad.Port, nil,
		[]string{"fp=" + ad.Fingerprint},
	)
	if err != nil {
		return fmt.Errorf("mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("mdns server: %w", err)
	}
	b.mu.Lock()
	b.server = server
	b.mu.Unlock()
	log.Printf("[DISC] mdns advertising %s on port %d", ad.InstanceName, ad.Port)
	return nil
}

// #endregion mdns-advertise

// #region mdns-scan
// Scan re-queries the service at the configured cadence, forwarding entries
// as peer handles until ctx is done. A failed query is terminal: the caller
// owns the retry decision.
func (b *mdnsBackend) Scan(ctx context.Context, found chan<- PeerHandle) error {
	ticker := time.NewTicker(b.config.QueryInterval)
	defer ticker.Stop()

	for {
		if err := b.queryOnce(ctx, found); err != nil {
			return fmt.Errorf("mdns query: %w", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *mdnsBackend) queryOnce(ctx context.Context, found chan<- PeerHandle) error {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			handle := entryToHandle(entry)
			if handle.TransportAddress == "" {
				continue
			}
			select {
			case found <- handle:
			case <-ctx.Done():
				return
			}
		}
	}()

	params := mdns.DefaultParams(b.config.ServiceName)
	params.Entries = entries
	params.Timeout = b.config.QueryInterval / 2
	err := mdns.Query(params)
	close(entries)
	<-done
	return err
}

func entryToHandle(entry *mdns.ServiceEntry) PeerHandle {
	var addr string
	if entry.AddrV4 != nil {
		addr = fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port)
	} else if entry.AddrV6 != nil {
		addr = fmt.Sprintf("[%s]:%d", entry.AddrV6, entry.Port)
	}
	handle := PeerHandle{TransportAddress: addr}
	for _, field := range entry.InfoFields {
		if strings.HasPrefix(field, "fp=") {
			handle.Fingerprint = strings.TrimPrefix(field, "fp=")
		}
	}
	return handle
}

// #endregion mdns-scan

// #region mdns-close
// Close shuts down the advertisement server.
func (b *mdnsBackend) Close() error {
	b.mu.Lock()
	server := b.server
	b.server = nil
	b.mu.Unlock()
	if server != nil {
		return server.Shutdown()
	}
	return nil
}

// #endregion mdns-close
