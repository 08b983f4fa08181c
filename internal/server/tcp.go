package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/skypro1111/ccs-service/internal/config"
	"github.com/skypro1111/ccs-service/internal/metrics"
	"github.com/skypro1111/ccs-service/internal/session"
	"github.com/skypro1111/ccs-service/internal/stats"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// TCPServer accepts request connections and runs one handler per connection
type TCPServer struct {
	listener net.Listener
	config   *config.ServerConfig
	logger   *slog.Logger
	counters *stats.Counters
	metrics  *metrics.Metrics
	sessions *session.Manager

	// Peer identities (address:port) seen since start
	peers   map[string]struct{}
	peersMu sync.Mutex

	// Concurrency management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // accept loop
	handlers sync.WaitGroup // connection handlers
	stopOnce sync.Once

	// Basic counters
	connectionsAccepted atomic.Uint64
	acceptErrors        atomic.Uint64
}

// NewTCPServer creates a new TCP server instance
func NewTCPServer(cfg *config.ServerConfig, logger *slog.Logger, counters *stats.Counters,
	m *metrics.Metrics, sessions *session.Manager) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:   cfg,
		logger:   logger,
		counters: counters,
		metrics:  m,
		sessions: sessions,
		peers:    make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listening socket and begins accepting connections
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.config.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on TCP: %w", err)
	}
	s.listener = listener

	s.logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listener address
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, closes every open connection and waits for all handlers
func (s *TCPServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping TCP server...")

		s.cancel()

		if s.listener != nil {
			if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = fmt.Errorf("failed to close TCP listener: %w", cerr)
			}
		}

		s.wg.Wait()
		s.sessions.CloseAll()
		s.handlers.Wait()

		final := s.GetStatistics()
		s.logger.Info("TCP server stopped",
			slog.Uint64("connections_accepted", final.ConnectionsAccepted),
			slog.Uint64("known_peers", final.KnownPeers),
			slog.Uint64("accept_errors", final.AcceptErrors),
		)
	})
	return err
}

// acceptLoop is the main connection accepting loop
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				select {
				case <-s.ctx.Done():
					s.logger.Info("Accept loop stopping due to shutdown")
				default:
					s.logger.Error("TCP listener closed, no longer accepting connections",
						slog.String("error", err.Error()),
					)
				}
				return
			}

			backoff = nextBackoff(backoff)
			s.acceptErrors.Inc()
			s.metrics.RecordAcceptError()
			s.logger.Warn("Failed to accept TCP connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)

			select {
			case <-time.After(backoff):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		backoff = 0
		s.dispatch(conn)
	}
}

// dispatch registers a new connection and starts its handler
func (s *TCPServer) dispatch(conn net.Conn) {
	identity := conn.RemoteAddr().String()

	newPeer := s.markPeer(identity)
	if newPeer {
		s.counters.RecordNewConnection()
	}

	s.connectionsAccepted.Inc()
	s.metrics.RecordConnectionOpened(newPeer)

	// Registered before the handler starts so Stop always sees it.
	sess := s.sessions.Open(identity, conn)

	s.logger.Info("Client connected",
		slog.String("remote_addr", identity),
		slog.String("session_id", sess.ID.String()),
		slog.Bool("new_peer", newPeer),
	)

	s.handlers.Add(1)
	go s.handleConnection(conn, sess)
}

// markPeer adds identity to the seen set and reports whether it was new
func (s *TCPServer) markPeer(identity string) bool {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	if _, seen := s.peers[identity]; seen {
		return false
	}
	s.peers[identity] = struct{}{}
	return true
}

// GetStatistics returns current TCP server statistics
func (s *TCPServer) GetStatistics() TCPStatistics {
	s.peersMu.Lock()
	knownPeers := uint64(len(s.peers))
	s.peersMu.Unlock()

	return TCPStatistics{
		ConnectionsAccepted: s.connectionsAccepted.Load(),
		ActiveConnections:   uint64(s.sessions.ActiveCount()),
		KnownPeers:          knownPeers,
		AcceptErrors:        s.acceptErrors.Load(),
	}
}

// TCPStatistics represents TCP listener counters
type TCPStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ActiveConnections   uint64 `json:"active_connections"`
	KnownPeers          uint64 `json:"known_peers"`
	AcceptErrors        uint64 `json:"accept_errors"`
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	current *= 2
	if current > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return current
}
