package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"notiapp/internal/geo"
)

// Manager owns one Simulator per rider session.
type Manager struct {
	provider  PathProvider
	scheduler Scheduler
	sink      NotificationSink
	listener  Listener
	cfg       Config

	mu       sync.Mutex
	sessions map[string]*Simulator
}

func NewManager(provider PathProvider, scheduler Scheduler, sink NotificationSink, listener Listener, cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Manager{
		provider:  provider,
		scheduler: scheduler,
		sink:      sink,
		listener:  listener,
		cfg:       cfg,
		sessions:  make(map[string]*Simulator),
	}
}

// Session returns the simulator for id, creating an idle one on first use.
// When the manager is full, idle sessions are evicted to make room; if none
// can go, ErrTooManySessions is returned.
func (m *Manager) Session(id string) (*Simulator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if len(m.sessions) >= m.cfg.MaxSessions && !m.evictIdleLocked() {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, m.cfg.MaxSessions)
	}
	s := NewSimulator(id, m.cfg, m.scheduler, m.sink, m.listener)
	m.sessions[id] = s
	return s, nil
}

// evictIdleLocked drops sessions that have never started a journey.
func (m *Manager) evictIdleLocked() bool {
	evicted := 0
	for id, s := range m.sessions {
		if s.Snapshot().Status == Idle {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Msg("evicted idle sessions")
	}
	return evicted > 0
}

// Lookup returns the simulator for id without creating it.
func (m *Manager) Lookup(id string) (*Simulator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// StartJourney fetches a path from origin to the destination and starts the
// session's simulator on it. Nothing starts if the provider fails or returns
// an empty path.
func (m *Manager) StartJourney(ctx context.Context, session string, origin geo.Point, opts StartOptions) error {
	path, err := m.provider.Path(ctx, origin, opts.DestinationID)
	if err != nil {
		return fmt.Errorf("path to %s: %w", opts.DestinationID, err)
	}
	if len(path) == 0 {
		return fmt.Errorf("path to %s: %w", opts.DestinationID, ErrNoPath)
	}
	s, err := m.Session(session)
	if err != nil {
		return err
	}
	return s.Start(path, origin, opts)
}

func (m *Manager) Stop(session string) error {
	s, ok := m.Lookup(session)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, session)
	}
	s.Stop()
	return nil
}

func (m *Manager) End(session string) error {
	s, ok := m.Lookup(session)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, session)
	}
	s.End()
	return nil
}

// Snapshots returns every session ordered by id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	sims := make([]*Simulator, 0, len(m.sessions))
	for _, s := range m.sessions {
		sims = append(sims, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(sims))
	for _, s := range sims {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// Running returns the number of sessions currently ticking.
func (m *Manager) Running() int {
	n := 0
	for _, snap := range m.Snapshots() {
		if snap.Status == Running {
			n++
		}
	}
	return n
}

// Shutdown stops every running journey and waits for pending notifications.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sims := make([]*Simulator, 0, len(m.sessions))
	for _, s := range m.sessions {
		sims = append(sims, s)
	}
	m.mu.Unlock()

	for _, s := range sims {
		s.Stop()
	}
	for _, s := range sims {
		s.Drain()
	}
	log.Info().Int("sessions", len(sims)).Msg("journey manager stopped")
}
