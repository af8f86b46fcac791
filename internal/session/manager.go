// Package session owns the single activity aggregator a connection runs at a time.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/pkg/logger"
)

// Session is one running aggregator bound to an identity.
type Session struct {
	ID         string
	Identity   feed.Identity
	StartedAt  time.Time
	Aggregator *feed.Aggregator
	Controller *feed.Controller
}

// Observer receives every snapshot published by the active session.
type Observer func(*Session, feed.Snapshot)

// Option customises a Manager.
type Option func(*Manager)

// WithObserver registers fn on every session the manager starts.
func WithObserver(fn Observer) Option {
	return func(m *Manager) {
		if fn != nil {
			m.observers = append(m.observers, fn)
		}
	}
}

// WithControllerOptions forwards options to every controller the manager builds.
func WithControllerOptions(opts ...feed.ControllerOption) Option {
	return func(m *Manager) {
		m.controllerOpts = append(m.controllerOpts, opts...)
	}
}

// Manager guarantees at most one session is running and that the previous one is fully
// stopped before the next one starts.
type Manager struct {
	mu             sync.Mutex
	deps           feed.Dependencies
	observers      []Observer
	controllerOpts []feed.ControllerOption
	current        *Session
	log            *zap.Logger
}

// NewManager constructs a manager that builds aggregators from deps.
func NewManager(deps feed.Dependencies, opts ...Option) *Manager {
	m := &Manager{deps: deps, log: logger.WithModule("session")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Activate returns a running session for identity. The current session is reused when its
// identity matches; otherwise it is stopped before the new one starts.
func (m *Manager) Activate(ctx context.Context, identity feed.Identity) (*Session, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Identity == identity && m.current.Aggregator.Running() {
		return m.current, nil
	}
	m.stopLocked()

	agg, err := feed.NewAggregator(identity, m.deps)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:         uuid.NewString(),
		Identity:   identity,
		StartedAt:  time.Now().UTC(),
		Aggregator: agg,
		Controller: feed.NewController(agg, m.controllerOpts...),
	}
	for _, fn := range m.observers {
		observer := fn
		agg.OnChange(func(snap feed.Snapshot) { observer(sess, snap) })
	}

	if err := agg.Start(ctx); err != nil {
		return nil, err
	}

	m.current = sess
	m.log.Debug("session started",
		zap.String("session_id", sess.ID),
		zap.String("user_id", identity.UserID),
		zap.String("role", identity.Role),
		zap.String("tenant_id", identity.TenantID),
	)
	return sess, nil
}

// Current returns the running session, if any.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close stops the current session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.current == nil {
		return
	}
	m.current.Aggregator.Stop()
	m.log.Debug("session stopped", zap.String("session_id", m.current.ID))
	m.current = nil
}

// Factory builds managers that share dependencies and base options.
type Factory func(opts ...Option) *Manager

// NewFactory returns a Factory over deps.
func NewFactory(deps feed.Dependencies, base ...Option) Factory {
	return func(opts ...Option) *Manager {
		all := make([]Option, 0, len(base)+len(opts))
		all = append(all, base...)
		all = append(all, opts...)
		return NewManager(deps, all...)
	}
}
