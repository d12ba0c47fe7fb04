// Package egress acquires fetch sessions whose network exit lies inside a
// regional allow-list, and guarantees every session it creates is destroyed.
package egress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"market-watch/internal/core"
)

// Config controls session acquisition.
type Config struct {
	AllowedRegions   []string
	AttemptsPerRound int
	RoundBackoff     time.Duration
	ProbeTimeout     time.Duration
	WorkspaceRoot    string
}

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("egress manager closed")

// Manager hands out validated sessions and reclaims them.
//
// Idle sessions released with OutcomeOK are reused by later Acquire calls
// until Refresh retires them. Sessions released with any other outcome are
// destroyed immediately.
type Manager struct {
	config  Config
	pool    Pool
	prober  Prober
	logger  *core.Logger
	allowed map[string]bool
	sleep   func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	idle       []*Session
	live       map[string]*Session
	generation int
	closed     bool
}

// NewManager validates the configuration and prepares the workspace root.
// Every error it returns is a fatal initialisation error.
func NewManager(config Config, pool Pool, prober Prober, logger *core.Logger) (*Manager, error) {
	if pool == nil || prober == nil {
		return nil, core.NewFatalInitError("egress pool and prober are required", nil)
	}

	allowed := make(map[string]bool, len(config.AllowedRegions))
	for _, region := range config.AllowedRegions {
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			allowed[region] = true
		}
	}
	if len(allowed) == 0 {
		return nil, core.NewFatalInitError("region allow-list is empty", nil)
	}

	if config.AttemptsPerRound < 1 {
		config.AttemptsPerRound = 1
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 10 * time.Second
	}
	if config.WorkspaceRoot == "" {
		config.WorkspaceRoot = os.TempDir()
	}
	if err := os.MkdirAll(config.WorkspaceRoot, 0o700); err != nil {
		return nil, core.NewFatalInitError("cannot create session workspace root", err)
	}
	probe, err := os.MkdirTemp(config.WorkspaceRoot, "probe-")
	if err != nil {
		return nil, core.NewFatalInitError("session workspace root is not writable", err)
	}
	os.RemoveAll(probe)

	return &Manager{
		config:  config,
		pool:    pool,
		prober:  prober,
		logger:  logger,
		allowed: allowed,
		sleep:   sleepContext,
		live:    make(map[string]*Session),
	}, nil
}

// Acquire returns a session whose region is in the allow-list. It blocks
// through as many probe rounds as needed and only gives up when ctx ends
// or the manager is closed.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if s, err := m.takeIdle(); s != nil || err != nil {
		return s, err
	}

	for round := 1; ; round++ {
		for attempt := 1; attempt <= m.config.AttemptsPerRound; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, core.NewTransportError("session acquisition cancelled", err)
			}

			s, err := m.tryCreate(ctx, round, attempt)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return nil, err
				}
				continue
			}
			return s, nil
		}

		m.logger.Warn("No session in allowed region this round, backing off",
			"round", round, "attempts", m.config.AttemptsPerRound, "backoff", m.config.RoundBackoff)
		if err := m.sleep(ctx, m.config.RoundBackoff); err != nil {
			return nil, core.NewTransportError("session acquisition cancelled", err)
		}
	}
}

func (m *Manager) takeIdle() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	for len(m.idle) > 0 {
		s := m.idle[len(m.idle)-1]
		m.idle = m.idle[:len(m.idle)-1]
		if s.generation == m.generation {
			return s, nil
		}
		m.destroyLocked(s)
	}
	return nil, nil
}

// tryCreate creates one session and probes it. The session is destroyed on
// every path that does not return it.
func (m *Manager) tryCreate(ctx context.Context, round, attempt int) (*Session, error) {
	endpoint, err := m.pool.Next(ctx)
	if err != nil {
		m.logger.Warn("Egress pool returned no endpoint", "round", round, "attempt", attempt, "error", err)
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	s, err := newSession(endpoint, m.config.WorkspaceRoot, m.generation)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("Failed to create session resources", "endpoint", endpoint.Label(), "error", err)
		return nil, err
	}
	m.live[s.ID] = s
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	region, err := m.prober.Probe(probeCtx, s.Client())
	cancel()

	log := m.logger.With("session_id", s.ID, "endpoint", endpoint.Label(), "round", round, "attempt", attempt)
	if err != nil {
		log.Warn("Geo probe failed", "error", err)
		m.destroy(s)
		return nil, core.NewTransportError("geo probe failed", err)
	}
	if !m.allowed[region] {
		log.Info("Session outside allowed regions, discarding", "region", region)
		m.destroy(s)
		return nil, core.NewGeoMismatchError(fmt.Sprintf("egress region %s not allowed", region), nil)
	}

	m.mu.Lock()
	if m.closed || s.destroyed {
		m.destroyLocked(s)
		m.mu.Unlock()
		return nil, ErrClosed
	}
	s.Region = region
	s.Validated = true
	m.mu.Unlock()

	log.Info("Session acquired", "region", region)
	return s, nil
}

// Release returns a session after use. OutcomeOK keeps it for reuse unless a
// refresh retired it meanwhile; any other outcome destroys it.
func (m *Manager) Release(s *Session, outcome Outcome) {
	if s == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s.Uses++
	if outcome != OutcomeOK {
		s.Failures++
		m.logger.Info("Discarding session", "session_id", s.ID, "outcome", outcome.String(), "uses", s.Uses)
		m.destroyLocked(s)
		return
	}
	if m.closed || s.destroyed || s.generation != m.generation {
		m.destroyLocked(s)
		return
	}
	m.idle = append(m.idle, s)
}

// Refresh retires every current session: idle ones are destroyed now and
// in-use ones when they are released.
func (m *Manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	retired := len(m.idle)
	for _, s := range m.idle {
		m.destroyLocked(s)
	}
	m.idle = nil
	m.logger.Info("Refreshed egress sessions", "generation", m.generation, "destroyed_idle", retired, "live", len(m.live))
}

// Close destroys every session, including ones still held by callers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, s := range m.live {
		if err := m.destroyLocked(s); err != nil {
			errs = append(errs, err)
		}
	}
	m.idle = nil
	m.logger.Info("Egress manager closed")
	return errors.Join(errs...)
}

// LiveCount is the number of sessions created and not yet destroyed.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) destroy(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyLocked(s)
}

func (m *Manager) destroyLocked(s *Session) error {
	delete(m.live, s.ID)
	if err := s.destroy(); err != nil {
		m.logger.Warn("Failed to remove session workspace", "session_id", s.ID, "workspace", s.Workspace, "error", err)
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
