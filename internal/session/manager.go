package session

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session represents one open TCP connection
type Session struct {
	ID           uuid.UUID
	RemoteAddr   string
	StartTime    time.Time
	LastActivity time.Time

	requests uint64
	errors   uint64

	conn io.Closer
	mu   sync.RWMutex
}

// Info is a read-only view of a session
type Info struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	Duration     string    `json:"duration"`
	Requests     uint64    `json:"requests"`
	Errors       uint64    `json:"errors"`
}

// Manager tracks all open sessions
type Manager struct {
	sessions map[uuid.UUID]*Session
	mu       sync.RWMutex
	logger   *slog.Logger

	// Idle reaping; disabled when idleTimeout is zero
	idleTimeout   time.Duration
	checkInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager. A positive idleTimeout starts a background
// routine that closes connections without activity for longer than the timeout.
func NewManager(logger *slog.Logger, idleTimeout time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:    make(map[uuid.UUID]*Session),
		logger:      logger,
		idleTimeout: idleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}

	if idleTimeout > 0 {
		mgr.checkInterval = idleTimeout / 4
		if mgr.checkInterval < 100*time.Millisecond {
			mgr.checkInterval = 100 * time.Millisecond
		}
		go mgr.startCleanupRoutine()
	} else {
		close(mgr.cleanup)
	}

	return mgr
}

// Open registers a new session for conn
func (m *Manager) Open(remoteAddr string, conn io.Closer) *Session {
	now := time.Now()
	session := &Session{
		ID:           uuid.New(),
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		LastActivity: now,
		conn:         conn,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Debug("Session opened",
		slog.String("session_id", session.ID.String()),
		slog.String("remote_addr", remoteAddr),
	)

	return session
}

// Close removes a session from the registry. It reports whether the session was present.
func (m *Manager) Close(id uuid.UUID) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := session.Info()
	m.logger.Debug("Session closed",
		slog.String("session_id", info.ID),
		slog.String("remote_addr", info.RemoteAddr),
		slog.Uint64("requests", info.Requests),
		slog.Uint64("errors", info.Errors),
		slog.Duration("total_duration", time.Since(info.StartTime)),
	)

	return true
}

// Get returns a session by ID
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// ActiveCount returns the number of open sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

// All returns info for every open session, oldest first
func (m *Manager) All() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.Before(infos[j].StartTime)
	})
	return infos
}

// CloseAll closes the connection of every open session. Handlers remove
// their sessions when their read loops exit.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	for _, session := range sessions {
		session.closeConn()
	}
}

// Stop stops the idle reaping routine
func (m *Manager) Stop() {
	m.cancel()
	<-m.cleanup
}

// startCleanupRoutine runs in a separate goroutine to close idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.Info("Session idle reaper started",
		slog.Duration("idle_timeout", m.idleTimeout),
		slog.Duration("check_interval", m.checkInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.closeIdleSessions()
		}
	}
}

// closeIdleSessions closes connections that have been inactive for too long
func (m *Manager) closeIdleSessions() {
	now := time.Now()
	idle := make([]*Session, 0)

	m.mu.RLock()
	for _, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.idleTimeout {
			idle = append(idle, session)
		}
	}
	m.mu.RUnlock()

	for _, session := range idle {
		m.logger.Info("Closing idle session",
			slog.String("session_id", session.ID.String()),
			slog.String("remote_addr", session.RemoteAddr),
		)
		session.closeConn()
	}
}

// Touch records a processed request on the session
func (s *Session) Touch(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastActivity = time.Now()
	s.requests++
	if failed {
		s.errors++
	}
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:           s.ID.String(),
		RemoteAddr:   s.RemoteAddr,
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity,
		Duration:     time.Since(s.StartTime).Round(time.Millisecond).String(),
		Requests:     s.requests,
		Errors:       s.errors,
	}
}

func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
