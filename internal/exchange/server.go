package exchange

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	pb "github.com/spots-social/ai2ai/gen/ai2aipb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/spots-social/ai2ai/internal/anonymize"
)

// #region provider
// PayloadProvider returns the current local anonymized payload. The server
// never sees raw dimensions; anonymization happens before this boundary.
type PayloadProvider func(ctx context.Context) (anonymize.Payload, error)

// ExchangeHook is invoked after a responder-side exchange completes, with
// the initiator's fingerprint and payload. It must not block.
type ExchangeHook func(peerFingerprint string, remote anonymize.Payload)

// #endregion provider

// #region server-struct
// Server is the responder side of the AI2AI exchange.
type Server struct {
	pb.UnimplementedExchangeServiceServer

	fingerprint string
	provider    PayloadProvider
	hook        ExchangeHook

	mu       sync.Mutex
	sessions map[string]session
}

type session struct {
	key             []byte
	peerFingerprint string
}

// NewServer creates a responder with this node's fingerprint and payload
// provider. hook may be nil.
func NewServer(fingerprint string, provider PayloadProvider, hook ExchangeHook) *Server {
	return &Server{
		fingerprint: fingerprint,
		provider:    provider,
		hook:        hook,
		sessions:    make(map[string]session),
	}
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(gs *grpc.Server) {
	pb.RegisterExchangeServiceServer(gs, s)
}

// #endregion server-struct

// #region handshake
// Handshake trades ephemeral keys and opens a session.
func (s *Server) Handshake(ctx context.Context, req *pb.HandshakeRequest) (*pb.HandshakeResponse, error) {
	priv, err := newEphemeralKey()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "keygen: %v", err)
	}
	key, err := deriveSessionKey(priv, req.EphemeralPublicKey)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "handshake: %v", err)
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.sessions[id] = session{key: key, peerFingerprint: req.Fingerprint}
	s.mu.Unlock()

	return &pb.HandshakeResponse{
		EphemeralPublicKey: priv.PublicKey().Bytes(),
		Fingerprint:        s.fingerprint,
		SessionId:          id,
	}, nil
}

// #endregion handshake

// #region exchange
// Exchange opens the initiator's sealed payload and answers with our own.
// Any decrypt failure aborts this session only; the session is dropped and
// no learning update happens on either side.
func (s *Server) Exchange(ctx context.Context, req *pb.ExchangeRequest) (*pb.ExchangeResponse, error) {
	s.mu.Lock()
	sess, ok := s.sessions[req.SessionId]
	delete(s.sessions, req.SessionId) // single use
	s.mu.Unlock()
	if !ok {
		return nil, status.Error(codes.NotFound, "unknown session")
	}

	remotePlain, err := open(sess.key, req.SealedPayload)
	if err != nil {
		log.Printf("[XCHG] decrypt failure from %s: %v", sess.peerFingerprint, err)
		return nil, status.Errorf(codes.InvalidArgument, "decrypt: %v", err)
	}
	var remote anonymize.Payload
	if err := json.Unmarshal(remotePlain, &remote); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "payload: %v", err)
	}

	local, err := s.provider(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "local payload: %v", err)
	}
	plaintext, err := json.Marshal(local)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal: %v", err)
	}
	sealed, err := seal(sess.key, plaintext)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "seal: %v", err)
	}

	if s.hook != nil {
		s.hook(sess.peerFingerprint, remote)
	}

	return &pb.ExchangeResponse{SealedPayload: sealed}, nil
}

// #endregion exchange

// #region sessions
// OpenSessions reports how many handshakes await their exchange.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// #endregion sessions
