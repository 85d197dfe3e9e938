package exchange

import (
	"context"
	"encoding/json"
	"fmt"

	pb "github.com/spots-social/ai2ai/gen/ai2aipb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/spots-social/ai2ai/internal/anonymize"
)

// #region result
// Result is what an initiator learns from one completed exchange.
type Result struct {
	PeerFingerprint string
	Remote          anonymize.Payload
	Compatibility   float64
}

// #endregion result

// #region client-struct
// Client runs the initiator side of the AI2AI exchange against one peer.
// Transport privacy comes from the application-level handshake: payloads are
// sealed with a per-session key before they touch the wire.
type Client struct {
	conn   *grpc.ClientConn
	client pb.ExchangeServiceClient
}

// #endregion client-struct

// #region constructor
// NewClient dials a peer's exchange endpoint.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		client: pb.NewExchangeServiceClient(conn),
	}, nil
}

// NewClientWithService creates a Client with an injected service
// implementation. Used for testing without a real connection.
func NewClientWithService(svc pb.ExchangeServiceClient) *Client {
	return &Client{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region run
// Run performs the full handshake-then-exchange sequence. Any failure aborts
// this peer pair only; the caller applies no learning update on error.
func (c *Client) Run(ctx context.Context, localFingerprint string, local anonymize.Payload) (Result, error) {
	priv, err := newEphemeralKey()
	if err != nil {
		return Result{}, err
	}

	hs, err := c.client.Handshake(ctx, &pb.HandshakeRequest{
		EphemeralPublicKey: priv.PublicKey().Bytes(),
		Fingerprint:        localFingerprint,
	})
	if err != nil {
		return Result{}, fmt.Errorf("handshake rpc: %w", err)
	}

	key, err := deriveSessionKey(priv, hs.EphemeralPublicKey)
	if err != nil {
		return Result{}, fmt.Errorf("handshake: %w", err)
	}

	plaintext, err := json.Marshal(local)
	if err != nil {
		return Result{}, fmt.Errorf("marshal payload: %w", err)
	}
	sealed, err := seal(key, plaintext)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.client.Exchange(ctx, &pb.ExchangeRequest{
		SessionId:     hs.SessionId,
		SealedPayload: sealed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("exchange rpc: %w", err)
	}

	remotePlain, err := open(key, resp.SealedPayload)
	if err != nil {
		return Result{}, err
	}
	var remote anonymize.Payload
	if err := json.Unmarshal(remotePlain, &remote); err != nil {
		return Result{}, fmt.Errorf("unmarshal remote payload: %w", err)
	}

	return Result{
		PeerFingerprint: hs.Fingerprint,
		Remote:          remote,
		Compatibility:   anonymize.Compatibility(local.Vibe, remote.Vibe),
	}, nil
}

// #endregion run
