package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"notiapp/internal/geo"
	"notiapp/internal/notify"
)

const (
	DefaultTickInterval    = time.Second
	DefaultCompletionDelay = 2 * time.Second
	DefaultMaxSessions     = 10000
	notifyTimeout          = 30 * time.Second
)

// Config holds per-simulator settings shared by every session of a Manager.
type Config struct {
	TickInterval    time.Duration
	ResetPolicy     ResetPolicy
	Home            geo.Point
	CompletionDelay time.Duration
	// MaxSessions caps how many sessions a Manager keeps; 0 means DefaultMaxSessions.
	MaxSessions int
}

// StartOptions describe the journey being started.
type StartOptions struct {
	DestinationID   string
	DestinationName string
}

// Simulator advances a position along a fixed path, one vertex per tick.
// All state lives in the simulator; tick callbacks mutate it in place and
// renderers only ever see a Snapshot.
type Simulator struct {
	session         string
	scheduler       Scheduler
	sink            NotificationSink
	listener        Listener
	tickInterval    time.Duration
	resetPolicy     ResetPolicy
	completionDelay time.Duration
	now             func() time.Time

	mu       sync.Mutex
	state    journeyState
	handle   Handle
	ticking  bool
	gen      uint64
	homeSet  bool
	inflight conc.WaitGroup
}

type journeyState struct {
	id              string
	destination     string
	destinationName string
	path            geo.Path
	cursor          int
	traveled        geo.Path
	status          Status
	start           geo.Point
	home            geo.Point
	position        geo.Point
	bearing         float64
	ticks           int
	startedAt       time.Time
}

// NewSimulator builds an idle simulator. sink and listener may be nil.
func NewSimulator(session string, cfg Config, scheduler Scheduler, sink NotificationSink, listener Listener) *Simulator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.CompletionDelay < 0 {
		cfg.CompletionDelay = 0
	}
	if sink == nil {
		sink = notify.LogSink{}
	}
	if listener == nil {
		listener = nopListener{}
	}
	s := &Simulator{
		session:         session,
		scheduler:       scheduler,
		sink:            sink,
		listener:        listener,
		tickInterval:    cfg.TickInterval,
		resetPolicy:     cfg.ResetPolicy,
		completionDelay: cfg.CompletionDelay,
		now:             time.Now,
	}
	if !cfg.Home.IsZero() {
		s.state.home = cfg.Home
		s.state.position = cfg.Home
		s.homeSet = true
	}
	return s
}

func (s *Simulator) Session() string { return s.session }

// SetHomePosition records the position Stop and End fall back to under ResetToHome.
// While idle the current position follows it.
func (s *Simulator) SetHomePosition(p geo.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.home = p
	s.homeSet = true
	if s.state.status == Idle {
		s.state.position = p
	}
}

// Start begins a new journey along path from initial. An active run is
// cancelled first, so there is never more than one tick stream, and is
// reported as stopped before the new run is reported as running.
func (s *Simulator) Start(path geo.Path, initial geo.Point, opts StartOptions) error {
	if len(path) == 0 {
		log.Warn().Str("session", s.session).Str("destination", opts.DestinationID).Msg("refusing to start journey with empty path")
		return ErrInvalidStartConditions
	}

	s.mu.Lock()
	prev := s.state.status
	var superseded *StatusEvent
	if prev == Running {
		log.Debug().Str("session", s.session).Str("journey", s.state.id).Msg("superseding running journey")
		ev := s.eventLocked(Running, Stopped)
		superseded = &ev
		prev = Stopped
	}
	s.cancelLocked()
	if !s.homeSet {
		s.state.home = initial
		s.homeSet = true
	}
	s.state = journeyState{
		id:              uuid.NewString(),
		destination:     opts.DestinationID,
		destinationName: opts.DestinationName,
		path:            path.Clone(),
		cursor:          0,
		traveled:        geo.Path{initial},
		status:          Running,
		start:           initial,
		home:            s.state.home,
		position:        initial,
		startedAt:       s.now(),
	}
	gen := s.gen
	s.handle = s.scheduler.ScheduleRepeating(s.tickInterval, func() { s.onTick(gen) })
	s.ticking = true
	ev := s.eventLocked(prev, Running)
	s.mu.Unlock()

	log.Info().
		Str("session", s.session).
		Str("journey", ev.JourneyID).
		Str("destination", opts.DestinationID).
		Int("points", len(path)).
		Msg("journey started")
	if superseded != nil {
		s.listener.StatusChanged(*superseded)
	}
	s.listener.StatusChanged(ev)
	return nil
}

func (s *Simulator) onTick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state.status != Running {
		s.mu.Unlock()
		return
	}
	st := &s.state
	if st.cursor >= len(st.path)-1 {
		s.cancelLocked()
		st.status = Completed
		ev := s.eventLocked(Running, Completed)
		s.mu.Unlock()
		log.Info().Str("session", s.session).Str("journey", ev.JourneyID).Int("ticks", ev.Ticks).Msg("journey path exhausted")
		s.listener.StatusChanged(ev)
		return
	}
	prevPos := st.path[st.cursor]
	st.cursor++
	pos := st.path[st.cursor]
	st.traveled = append(st.traveled, pos)
	st.position = pos
	st.bearing = geo.Bearing(prevPos, pos)
	st.ticks++
	u := PositionUpdate{
		JourneyID:   st.id,
		Session:     s.session,
		Destination: st.destination,
		Cursor:      st.cursor,
		PathLen:     len(st.path),
		Position:    pos,
		Bearing:     st.bearing,
		Progress:    progress(st.cursor, len(st.path)),
		Timestamp:   s.now(),
	}
	s.mu.Unlock()
	s.listener.PositionChanged(u)
}

// Stop abandons the current journey and discards its progress. Safe to call
// in any state; only Running and Completed journeys transition to Stopped.
func (s *Simulator) Stop() {
	s.mu.Lock()
	prev := s.state.status
	s.cancelLocked()
	if prev != Running && prev != Completed {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.state.status = Stopped
	ev := s.eventLocked(prev, Stopped)
	s.mu.Unlock()

	log.Info().Str("session", s.session).Str("journey", ev.JourneyID).Msg("journey stopped")
	s.listener.StatusChanged(ev)
}

// End finishes the journey and dispatches one completion notification.
// The notification is sent asynchronously; failures are logged, never returned.
func (s *Simulator) End() {
	s.mu.Lock()
	prev := s.state.status
	if prev != Running && prev != Completed {
		s.mu.Unlock()
		log.Debug().Str("session", s.session).Stringer("status", prev).Msg("end ignored")
		return
	}
	s.cancelLocked()
	s.resetLocked()
	s.state.status = Ended
	ev := s.eventLocked(prev, Ended)
	n := s.completionLocked()
	s.mu.Unlock()

	log.Info().Str("session", s.session).Str("journey", ev.JourneyID).Msg("journey ended")
	s.listener.StatusChanged(ev)

	s.inflight.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.Delay+notifyTimeout)
		defer cancel()
		err := s.sink.Notify(ctx, n)
		if err != nil {
			log.Error().Err(err).Str("session", s.session).Str("journey", n.Ref).Msg("completion notification failed")
		}
		if nl, ok := s.listener.(NotificationListener); ok {
			nl.NotificationSent(n, err)
		}
	})
}

// Drain waits for in-flight completion notifications.
func (s *Simulator) Drain() { s.inflight.Wait() }

func (s *Simulator) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	return Snapshot{
		JourneyID:       st.id,
		Session:         s.session,
		Destination:     st.destination,
		DestinationName: st.destinationName,
		Status:          st.status,
		Cursor:          st.cursor,
		PathLen:         len(st.path),
		Position:        st.position,
		Bearing:         st.bearing,
		TraveledPath:    st.traveled.Clone(),
		StartPosition:   st.start,
		HomePosition:    st.home,
		Progress:        progress(st.cursor, len(st.path)),
		Ticks:           st.ticks,
		StartedAt:       st.startedAt,
		ResetPolicy:     s.resetPolicy,
	}
}

// cancelLocked cancels the schedule and invalidates any tick already queued.
func (s *Simulator) cancelLocked() {
	if s.ticking {
		s.scheduler.Cancel(s.handle)
		s.ticking = false
	}
	s.gen++
}

func (s *Simulator) resetLocked() {
	s.state.cursor = 0
	s.state.traveled = geo.Path{}
	s.state.bearing = 0
	if s.resetPolicy == ResetToJourneyStart {
		s.state.position = s.state.start
	} else {
		s.state.position = s.state.home
	}
}

func (s *Simulator) eventLocked(from, to Status) StatusEvent {
	return StatusEvent{
		JourneyID:   s.state.id,
		Session:     s.session,
		Destination: s.state.destination,
		From:        from,
		To:          to,
		Ticks:       s.state.ticks,
		StartedAt:   s.state.startedAt,
		Timestamp:   s.now(),
	}
}

func (s *Simulator) completionLocked() notify.Notification {
	body := "Your journey has ended."
	if s.state.destinationName != "" {
		body = fmt.Sprintf("You have arrived at %s.", s.state.destinationName)
	}
	return notify.Notification{
		Topic:     "journeys",
		Title:     "Journey complete",
		Body:      body,
		Delay:     s.completionDelay,
		CreatedAt: s.now(),
		Ref:       s.state.id,
	}
}

func progress(cursor, n int) float64 {
	if n <= 1 {
		if n == 1 {
			return 1
		}
		return 0
	}
	return float64(cursor) / float64(n-1)
}
