package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/strobe/internal/config"
	"github.com/coral-mesh/strobe/internal/target"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// Backend supplies the collaborators for a live process. It fills the
// Interceptor, Memory, Slide and Closers of opts, and must not wait for
// handle.
type Backend func(proc target.ProcessInfo, handle *debuginfo.Handle, opts *Options) error

// Inspector looks a process up by pid.
type Inspector func(ctx context.Context, pid int32) (target.ProcessInfo, error)

// Manager owns the sessions of a controller and the debug-info cache they
// share.
type Manager struct {
	cfg     *config.Config
	logger  zerolog.Logger
	cache   *debuginfo.Cache
	backend Backend
	inspect Inspector

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBackend replaces the process backend.
func WithBackend(b Backend) ManagerOption {
	return func(m *Manager) { m.backend = b }
}

// WithInspector replaces the process lookup.
func WithInspector(fn Inspector) ManagerOption {
	return func(m *Manager) { m.inspect = fn }
}

// NewManager creates a manager. The default backend attaches uprobes and
// reads memory through the kernel.
func NewManager(logger zerolog.Logger, cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cache, err := debuginfo.NewCache(logger, cfg.Index.CacheSize, debuginfo.Options{
		SymbolsPath: cfg.Index.SymbolsPath,
		SearchRoot:  cfg.Index.SearchRoot,
	})
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		cache:    cache,
		inspect:  target.InspectProcess,
		sessions: make(map[string]*Session),
	}
	m.backend = ProcessBackend(cfg, logger)
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Attach starts a session on the running process pid. opts may carry the
// ID, Sink, OnPause and Clock; the backend supplies the rest. The debug
// info is parsed in the background, and a binary without any still
// attaches: only operations that resolve names fail.
func (m *Manager) Attach(ctx context.Context, pid int32, opts Options) (*Session, error) {
	proc, err := m.inspect(ctx, pid)
	if err != nil {
		return nil, err
	}
	handle, err := m.cache.Get(proc.Exe)
	if err != nil {
		return nil, err
	}

	if err := m.backend(proc, handle, &opts); err != nil {
		return nil, fmt.Errorf("attach to %d: %w", pid, err)
	}
	s, err := New(ctx, m.logger, m.cfg, handle, opts)
	if err != nil {
		closeErr := closeAll(opts)
		if closeErr != nil {
			m.logger.Warn().Err(closeErr).Int32("pid", pid).Msg("Failed to release backend")
		}
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", s.ID()).
		Int32("pid", pid).
		Str("exe", proc.Exe).
		Msg("Attached to process")
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the ids of the live sessions, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Detach stops and forgets a session.
func (m *Manager) Detach(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	return s.Stop()
}

// Close stops every session and closes the debug-info cache.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var result *multierror.Error
	for id, s := range sessions {
		if err := s.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", id, err))
		}
	}
	if err := m.cache.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
