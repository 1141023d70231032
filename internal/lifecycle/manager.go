package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bidev/playcast-ingest/internal/domain"
	"github.com/bidev/playcast-ingest/internal/netaddr"
)

const (
	msgStarted        = "Server started successfully"
	msgAlreadyRunning = "Server is already running"
	msgStartFailed    = "Failed to start server: "
	msgStopped        = "Server stopped successfully"
	msgNotRunning     = "Server is not running"
	msgStopFailed     = "Failed to stop server: "
)

var errManagerClosed = errors.New("lifecycle manager is closed")

// Server is the listener the manager owns while Running. IsAlive turns
// false once the listener stops serving, whoever stopped it.
type Server interface {
	Start(port int) error
	Port() int
	IsAlive() bool
	Close() error
}

// ServerFactory builds a fresh, unstarted server for each start.
type ServerFactory func() Server

// Manager holds the single server handle. Every transition runs under mu,
// so concurrent starts cannot both bind.
type Manager struct {
	newServer  ServerFactory
	discoverIP func() string
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	current Server
	port    int
	closed  bool
}

func NewManager(factory ServerFactory, logger *slog.Logger) *Manager {
	return &Manager{
		newServer:  factory,
		discoverIP: netaddr.DiscoverIP,
		logger:     logger,
	}
}

// Start binds a new server on port. It fails with SERVER_RUNNING when a
// server is already live and with START_ERROR when binding fails.
func (m *Manager) Start(ctx context.Context, port int) (*domain.StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked(ctx) {
		m.logLifecycle(ctx, slog.LevelWarn, "ingest_start_rejected", slog.Int("port", m.port))
		return nil, toolError(domain.CodeServerRunning, msgAlreadyRunning)
	}
	if m.closed {
		return nil, toolError(domain.CodeStartError, msgStartFailed+errManagerClosed.Error())
	}
	if m.newServer == nil {
		return nil, toolError(domain.CodeStartError, msgStartFailed+"no server factory configured")
	}

	srv := m.newServer()
	if err := srv.Start(port); err != nil {
		m.logLifecycle(ctx, slog.LevelError, "ingest_start_failed", slog.Int("port", port), slog.String("error", err.Error()))
		return nil, toolError(domain.CodeStartError, msgStartFailed+err.Error())
	}

	m.current = srv
	m.port = srv.Port()

	url := netaddr.DisplayURL(m.discoverIP(), m.port)
	m.logLifecycle(ctx, slog.LevelInfo, "ingest_started", slog.Int("port", m.port), slog.String("url", url))
	return &domain.StartResult{
		Success: true,
		URL:     url,
		Message: msgStarted,
	}, nil
}

// Stop closes the live server. In-flight uploads are cut off.
func (m *Manager) Stop(ctx context.Context) (*domain.StopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.liveLocked(ctx) {
		return nil, toolError(domain.CodeNotRunning, msgNotRunning)
	}

	srv, port := m.current, m.port
	m.current = nil
	m.port = 0

	if err := srv.Close(); err != nil {
		m.logLifecycle(ctx, slog.LevelError, "ingest_stop_failed", slog.Int("port", port), slog.String("error", err.Error()))
		return nil, toolError(domain.CodeStopError, msgStopFailed+err.Error())
	}

	m.logLifecycle(ctx, slog.LevelInfo, "ingest_stopped", slog.Int("port", port))
	return &domain.StopResult{Success: true, Message: msgStopped}, nil
}

// Status reports the current state. Port is 0 while stopped.
func (m *Manager) Status() domain.ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.liveLocked(context.Background()) {
		return domain.ServerStatus{}
	}
	return domain.ServerStatus{IsRunning: true, Port: m.port}
}

// Close stops any live server and rejects later starts.
func (m *Manager) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		running := m.liveLocked(ctx)
		m.mu.Unlock()

		if !running {
			return
		}
		if _, err := m.Stop(ctx); err != nil {
			var toolErr *domain.ToolError
			if errors.As(err, &toolErr) && toolErr.Code == domain.CodeNotRunning {
				return
			}
			m.closeErr = err
		}
	})
	return m.closeErr
}

// liveLocked reports whether the held server is still serving. A handle
// whose listener died is released so the next start can bind again.
func (m *Manager) liveLocked(ctx context.Context) bool {
	if m.current == nil {
		return false
	}
	if m.current.IsAlive() {
		return true
	}

	srv, port := m.current, m.port
	m.current = nil
	m.port = 0
	m.logLifecycle(ctx, slog.LevelWarn, "ingest_listener_lost", slog.Int("port", port))
	if err := srv.Close(); err != nil {
		m.logLifecycle(ctx, slog.LevelWarn, "ingest_release_failed", slog.Int("port", port), slog.String("error", err.Error()))
	}
	return false
}

func (m *Manager) logLifecycle(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Log(ctx, level, msg, attrs...)
}

func toolError(code, message string) *domain.ToolError {
	return &domain.ToolError{Code: code, Message: message}
}
