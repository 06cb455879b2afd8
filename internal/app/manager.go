package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/session"
)

// Manager lifecycle errors.
var (
	// ErrSessionActive is returned by Start when a session is already running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by session-scoped operations when no session is
	// running.
	ErrNoSession = errors.New("app: no active session")
)

// maxBufferedNotifications bounds the per-session notification buffer. When
// the buffer is full the oldest entry is dropped.
const maxBufferedNotifications = 128

// SessionInfo describes the currently active session.
type SessionInfo struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	State     session.State `json:"state"`
}

// Manager owns the lifecycle of at most one active voice session. Starting a
// session constructs a fresh orchestrator and runs it on its own goroutine;
// stopping cancels that goroutine and waits for it to finish. All methods are
// safe for concurrent use.
type Manager struct {
	factory func() *session.Orchestrator

	mu  sync.Mutex
	seq int
	cur *activeSession
}

// activeSession bundles one running orchestrator with its control surface.
type activeSession struct {
	id        string
	startedAt time.Time
	orch      *session.Orchestrator
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error

	notesMu sync.Mutex
	notes   []session.Notification
}

// NewManager creates a Manager. factory is invoked once per started session
// to build its orchestrator; it must not return nil.
func NewManager(factory func() *session.Orchestrator) *Manager {
	return &Manager{factory: factory}
}

// Start launches a new session. Fails with [ErrSessionActive] if one is
// already running. The session runs until Stop is called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		return SessionInfo{}, ErrSessionActive
	}

	m.seq++
	sctx, cancel := context.WithCancel(ctx)
	as := &activeSession{
		id:        fmt.Sprintf("session-%d", m.seq),
		startedAt: time.Now(),
		orch:      m.factory(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.cur = as

	go func() {
		defer close(as.done)
		as.runErr = as.orch.Run(sctx)
	}()
	go as.drainNotifications()

	return SessionInfo{SessionID: as.id, StartedAt: as.startedAt, State: as.orch.State()}, nil
}

// Stop ends the active session and waits for its orchestrator to shut down.
// Fails with [ErrNoSession] if none is running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	as := m.cur
	m.cur = nil
	m.mu.Unlock()

	if as == nil {
		return ErrNoSession
	}
	as.cancel()
	<-as.done
	return as.runErr
}

// IsActive reports whether a session is currently running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Info returns a snapshot of the active session.
func (m *Manager) Info() (SessionInfo, error) {
	as, err := m.active()
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{SessionID: as.id, StartedAt: as.startedAt, State: as.orch.State()}, nil
}

// Orchestrator returns the active session's orchestrator.
func (m *Manager) Orchestrator() (*session.Orchestrator, error) {
	as, err := m.active()
	if err != nil {
		return nil, err
	}
	return as.orch, nil
}

// TakeNotifications returns the notifications buffered since the previous
// call and clears the buffer.
func (m *Manager) TakeNotifications() ([]session.Notification, error) {
	as, err := m.active()
	if err != nil {
		return nil, err
	}
	as.notesMu.Lock()
	defer as.notesMu.Unlock()
	out := as.notes
	as.notes = nil
	return out, nil
}

func (m *Manager) active() (*activeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil, ErrNoSession
	}
	return m.cur, nil
}

// drainNotifications buffers orchestrator notifications for the HTTP API.
// It exits when the orchestrator shuts down.
func (as *activeSession) drainNotifications() {
	for {
		select {
		case <-as.done:
			return
		case n := <-as.orch.Notifications():
			as.notesMu.Lock()
			if len(as.notes) >= maxBufferedNotifications {
				as.notes = as.notes[1:]
			}
			as.notes = append(as.notes, n)
			as.notesMu.Unlock()
		}
	}
}
