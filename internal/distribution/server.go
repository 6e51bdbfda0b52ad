package distribution

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/zsiec/dcastream/internal/certs"
)

// StatsProvider is implemented by the pipeline to supply stream statistics
// for the stats control messages.
type StatsProvider interface {
	StreamSnapshot() StreamSnapshot
}

// Application error codes sent to clients via CloseWithError when the server
// terminates a connection.
const (
	errCodeStreamNotFound quic.ApplicationErrorCode = 1
	errCodeBadSubscribe   quic.ApplicationErrorCode = 2
	errCodeGoingAway      quic.ApplicationErrorCode = 3
)

// subscribeTimeout bounds how long a new connection may take to deliver its
// subscribe request before the server gives up on it.
const subscribeTimeout = 10 * time.Second

// formatTimeout is how long a new viewer waits for the first negotiated
// format before being answered without one (the format then arrives inline
// with the first data object).
const formatTimeout = 5 * time.Second

// statsInterval is how often per-viewer stats snapshots are sent.
const statsInterval = 1 * time.Second

// maxIdleTimeout is the QUIC idle timeout for viewer connections.
const maxIdleTimeout = 30 * time.Second

// ServerConfig holds the configuration for the distribution Server.
type ServerConfig struct {
	Addr string
	Cert *certs.CertInfo
}

// streamResources bundles the relay and stats provider for a single live
// stream, ensuring both are registered and torn down as a unit.
type streamResources struct {
	relay *Relay
	stats StatsProvider
}

// Server is the QUIC distribution server. It manages per-stream relays and
// serves viewer sessions speaking the subscribe protocol described in the
// package documentation.
type Server struct {
	config ServerConfig

	mu       sync.RWMutex
	streams  map[string]*streamResources
	listener *quic.Listener
}

// NewServer creates a distribution Server with the given configuration.
// It returns an error if required fields are missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("distribution: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("distribution: Addr is required")
	}
	return &Server{
		config:  config,
		streams: make(map[string]*streamResources),
	}, nil
}

// RegisterStream creates a Relay for the given stream key and returns it.
// If the stream already has a relay, the existing one is returned.
func (s *Server) RegisterStream(streamKey string) *Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.streams[streamKey]; ok {
		return sr.relay
	}
	r := NewRelay()
	s.streams[streamKey] = &streamResources{relay: r}
	return r
}

// UnregisterStream removes the relay and stats provider for a stream key.
func (s *Server) UnregisterStream(streamKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamKey)
}

// SetStats associates a StatsProvider with a stream key. The stream must
// already be registered via RegisterStream.
func (s *Server) SetStats(streamKey string, p StatsProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.streams[streamKey]; ok {
		sr.stats = p
	}
}

// GetStats returns the StatsProvider for a stream key, or nil if not found.
func (s *Server) GetStats(streamKey string) StatsProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sr, ok := s.streams[streamKey]; ok {
		return sr.stats
	}
	return nil
}

// GetRelay returns the Relay for a stream key, or nil if not found.
func (s *Server) GetRelay(streamKey string) *Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sr, ok := s.streams[streamKey]; ok {
		return sr.relay
	}
	return nil
}

// StreamKeys returns the keys of all registered streams.
func (s *Server) StreamKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	return keys
}

// Addr returns the bound listener address once Start is up, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start launches the QUIC listener and blocks accepting viewer connections
// until the context is cancelled or a fatal error occurs.
func (s *Server) Start(ctx context.Context) error {
	listener, err := quic.ListenAddr(s.config.Addr, s.config.Cert.TLSConfig(ALPN), &quic.Config{
		MaxIdleTimeout: maxIdleTimeout,
		Allow0RTT:      true,
	})
	if err != nil {
		return fmt.Errorf("distribution: listen %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("distribution server listening",
		"addr", listener.Addr(),
		"fingerprint", s.config.Cert.FingerprintBase64())

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("distribution: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs the subscribe handshake and then the viewer session for
// one accepted connection.
func (s *Server) handleConn(ctx context.Context, conn quic.Connection) {
	log := slog.With("component", "distribution", "remote", conn.RemoteAddr())
	log.Info("viewer connected")

	req, control, err := s.acceptSubscribe(ctx, conn)
	if err != nil {
		log.Warn("subscribe failed", "error", err)
		conn.CloseWithError(errCodeBadSubscribe, "bad subscribe")
		return
	}

	relay := s.GetRelay(req.Stream)
	if relay == nil {
		log.Warn("subscribe to unknown stream", "stream", req.Stream)
		_ = WriteJSON(control, SubscribeResponse{Error: ErrStreamNotFound.Error()})
		conn.CloseWithError(errCodeStreamNotFound, "stream not found")
		return
	}

	resp := SubscribeResponse{OK: true}
	waitCtx, waitCancel := context.WithTimeout(ctx, formatTimeout)
	if relay.WaitFormat(waitCtx) {
		format, _ := relay.Format()
		desc := DescribeFormat(format)
		resp.Format = &desc
	}
	waitCancel()

	if err := WriteJSON(control, resp); err != nil {
		log.Warn("subscribe response failed", "error", err)
		conn.CloseWithError(errCodeBadSubscribe, "subscribe response failed")
		return
	}

	// End the session when either the server shuts down or the client's
	// connection goes away.
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	stop := context.AfterFunc(conn.Context(), runCancel)
	defer stop()

	session := NewSession(uuid.New().String(), conn)
	relay.AddViewer(session)
	defer relay.RemoveViewer(session.ID())

	if req.Stats {
		go session.RunStats(runCtx, control, s.GetStats(req.Stream))
	}

	if err := session.Run(runCtx); err != nil && runCtx.Err() == nil {
		log.Debug("session ended", "session", session.ID(), "error", err)
	}
	conn.CloseWithError(errCodeGoingAway, "going away")
}

// acceptSubscribe accepts the control stream and reads the subscribe request
// from it, bounded by subscribeTimeout.
func (s *Server) acceptSubscribe(ctx context.Context, conn quic.Connection) (SubscribeRequest, quic.Stream, error) {
	subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	control, err := conn.AcceptStream(subCtx)
	if err != nil {
		return SubscribeRequest{}, nil, fmt.Errorf("accept control stream: %w", err)
	}

	// The context only bounds the accept; the read needs its own deadline so
	// a client that opens the stream and goes silent cannot park the handshake.
	_ = control.SetReadDeadline(time.Now().Add(subscribeTimeout))
	defer control.SetReadDeadline(time.Time{})

	// One request per connection, so a throwaway buffered reader is fine.
	var req SubscribeRequest
	if err := ReadJSON(bufio.NewReader(control), &req); err != nil {
		return SubscribeRequest{}, nil, fmt.Errorf("read subscribe request: %w", err)
	}
	if req.Stream == "" {
		return SubscribeRequest{}, nil, errors.New("missing stream key")
	}
	return req, control, nil
}
