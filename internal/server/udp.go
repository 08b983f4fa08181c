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
	"github.com/skypro1111/ccs-service/internal/protocol"
	"github.com/skypro1111/ccs-service/internal/stats"
)

// UDPServer answers discovery probes so clients can locate the service
type UDPServer struct {
	conn       *net.UDPConn
	config     *config.ServerConfig
	bufferSize int
	logger     *slog.Logger
	counters   *stats.Counters
	metrics    *metrics.Metrics

	// Concurrency management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Basic counters
	datagramsReceived atomic.Uint64
	probesAnswered    atomic.Uint64
	datagramsIgnored  atomic.Uint64
	socketErrors      atomic.Uint64
}

// NewUDPServer creates a new discovery responder
func NewUDPServer(cfg *config.ServerConfig, discovery *config.DiscoveryConfig, logger *slog.Logger,
	counters *stats.Counters, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:     cfg,
		bufferSize: discovery.BufferSize,
		logger:     logger,
		counters:   counters,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the datagram socket and begins answering probes
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.config.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	s.logger.Info("UDP discovery responder started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.bufferSize),
	)

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound socket address
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop closes the socket and waits for the receive loop to exit
func (s *UDPServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping UDP discovery responder...")

		s.cancel()

		// Close UDP connection to unblock the receive loop
		if s.conn != nil {
			if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = fmt.Errorf("failed to close UDP socket: %w", cerr)
			}
		}

		s.wg.Wait()

		final := s.GetStatistics()
		s.logger.Info("UDP discovery responder stopped",
			slog.Uint64("datagrams_received", final.DatagramsReceived),
			slog.Uint64("probes_answered", final.ProbesAnswered),
			slog.Uint64("datagrams_ignored", final.DatagramsIgnored),
		)
	})
	return err
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, s.bufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				select {
				case <-s.ctx.Done():
				default:
					s.logger.Error("UDP socket closed, discovery responder terminating",
						slog.String("error", err.Error()),
					)
				}
				return
			}

			s.socketErrors.Inc()
			s.metrics.RecordDiscoveryError()
			s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
			continue
		}

		s.datagramsReceived.Inc()
		s.handleDatagram(buffer[:n], remoteAddr)
	}
}

// handleDatagram replies to an exact discovery probe and ignores anything else
func (s *UDPServer) handleDatagram(payload []byte, remoteAddr *net.UDPAddr) {
	if !protocol.IsDiscoverProbe(payload) {
		s.datagramsIgnored.Inc()
		s.metrics.RecordDiscoveryDatagram(false)
		s.logger.Debug("Ignoring datagram",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("size", len(payload)),
		)
		return
	}

	if _, err := s.conn.WriteToUDP([]byte(protocol.DiscoverReply), remoteAddr); err != nil {
		s.socketErrors.Inc()
		s.metrics.RecordDiscoveryError()
		s.metrics.RecordDiscoveryDatagram(false)
		s.logger.Error("Failed to send discovery reply",
			slog.String("remote_addr", remoteAddr.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.probesAnswered.Inc()
	s.counters.RecordDiscoveryProbe()
	s.metrics.RecordDiscoveryDatagram(true)
	s.logger.Debug("Discovery probe answered",
		slog.String("remote_addr", remoteAddr.String()),
	)
}

// GetStatistics returns current responder statistics
func (s *UDPServer) GetStatistics() UDPStatistics {
	return UDPStatistics{
		DatagramsReceived: s.datagramsReceived.Load(),
		ProbesAnswered:    s.probesAnswered.Load(),
		DatagramsIgnored:  s.datagramsIgnored.Load(),
		SocketErrors:      s.socketErrors.Load(),
	}
}

// UDPStatistics represents discovery responder counters
type UDPStatistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	ProbesAnswered    uint64 `json:"probes_answered"`
	DatagramsIgnored  uint64 `json:"datagrams_ignored"`
	SocketErrors      uint64 `json:"socket_errors"`
}
