package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// #region signal-messages
// signalMessage is the framing shared with the rendezvous server.
type signalMessage struct {
	Type        string `json:"type"` // "register" | "peer"
	Address     string `json:"address,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// #endregion signal-messages

// #region signal-backend
// signalBackend is the WebRTC-style signaling fallback for contexts where
// multicast is unavailable: peers register with a rendezvous server over a
// websocket and receive announcements of other registered peers.
type signalBackend struct {
	config Config

	mu   sync.Mutex
	conn *websocket.Conn
}

func newSignalBackend(config Config) *signalBackend {
	return &signalBackend{config: config}
}

func (b *signalBackend) Name() string { return "signal" }

func (b *signalBackend) dial(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.config.SignalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("signal dial %s: %w", b.config.SignalURL, err)
	}
	b.conn = conn
	return conn, nil
}

// #endregion signal-backend

// #region signal-advertise
// Advertise registers this node with the rendezvous server.
func (b *signalBackend) Advertise(ctx context.Context, ad Advertisement) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	msg := signalMessage{
		Type:        "register",
		Address:     fmt.Sprintf("%s:%d", ad.InstanceName, ad.Port),
		Fingerprint: ad.Fingerprint,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("signal register: %w", err)
	}
	log.Printf("[DISC] signal registered with %s", b.config.SignalURL)
	return nil
}

// #endregion signal-advertise

// #region signal-scan
// Scan reads peer announcements until ctx is done. Dial failure is terminal.
func (b *signalBackend) Scan(ctx context.Context, found chan<- PeerHandle) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close() // unblocks ReadMessage
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("signal read: %w", err)
		}
		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[DISC] signal: malformed announcement dropped: %v", err)
			continue
		}
		if msg.Type != "peer" || msg.Address == "" {
			continue
		}
		select {
		case found <- PeerHandle{TransportAddress: msg.Address, Fingerprint: msg.Fingerprint}:
		case <-ctx.Done():
			return nil
		}
	}
}

// #endregion signal-scan

// #region signal-close
// Close tears down the websocket.
func (b *signalBackend) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// #endregion signal-close
