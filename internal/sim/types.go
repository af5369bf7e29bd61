package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notiapp/internal/geo"
	"notiapp/internal/notify"
)

var (
	// ErrInvalidStartConditions is returned by Start when the path is empty.
	ErrInvalidStartConditions = errors.New("invalid start conditions: empty path")
	// ErrNoPath is returned when a path provider yields nothing usable.
	ErrNoPath = errors.New("no path to destination")
	// ErrUnknownSession is returned for operations on a session that was never created.
	ErrUnknownSession = errors.New("unknown session")
	// ErrTooManySessions is returned when a Manager is full and the session is new.
	ErrTooManySessions = errors.New("too many sessions")
)

type Status int

const (
	Idle Status = iota
	Running
	Stopped
	Ended
	// Completed means the path was exhausted without an explicit end.
	Completed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Ended:
		return "ended"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ResetPolicy picks which position Stop and End restore.
type ResetPolicy int

const (
	// ResetToHome restores the position captured when the session was created.
	ResetToHome ResetPolicy = iota
	// ResetToJourneyStart restores the initial position passed to Start.
	ResetToJourneyStart
)

func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "home":
		return ResetToHome, nil
	case "start", "journey", "journey_start":
		return ResetToJourneyStart, nil
	default:
		return ResetToHome, fmt.Errorf("unknown reset policy %q", s)
	}
}

func (p ResetPolicy) String() string {
	if p == ResetToJourneyStart {
		return "start"
	}
	return "home"
}

// PathProvider resolves a route from origin to a destination id.
type PathProvider interface {
	Path(ctx context.Context, origin geo.Point, destinationID string) (geo.Path, error)
}

// Handle identifies a repeating schedule.
type Handle uint64

// Scheduler runs callbacks on a fixed interval. Callbacks for one handle never overlap.
type Scheduler interface {
	ScheduleRepeating(interval time.Duration, fn func()) Handle
	Cancel(h Handle)
}

// NotificationSink receives the completion notification fired by End.
type NotificationSink interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// PositionUpdate is emitted once per tick that moves the vehicle.
type PositionUpdate struct {
	JourneyID   string    `json:"journeyId"`
	Session     string    `json:"session"`
	Destination string    `json:"destination"`
	Cursor      int       `json:"cursor"`
	PathLen     int       `json:"pathLen"`
	Position    geo.Point `json:"position"`
	Bearing     float64   `json:"bearing"`
	Progress    float64   `json:"progress"`
	Timestamp   time.Time `json:"timestamp"`
}

// StatusEvent is emitted on every lifecycle transition.
type StatusEvent struct {
	JourneyID   string    `json:"journeyId"`
	Session     string    `json:"session"`
	Destination string    `json:"destination"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Ticks       int       `json:"ticks"`
	StartedAt   time.Time `json:"startedAt"`
	Timestamp   time.Time `json:"timestamp"`
}

// Listener observes a simulator. Calls happen outside the simulator lock.
type Listener interface {
	PositionChanged(u PositionUpdate)
	StatusChanged(e StatusEvent)
}

// NotificationListener is optionally implemented by listeners that want
// the outcome of completion notification dispatches.
type NotificationListener interface {
	NotificationSent(n notify.Notification, err error)
}

// Listeners fans out to every listener in order.
type Listeners []Listener

func (ls Listeners) PositionChanged(u PositionUpdate) {
	for _, l := range ls {
		l.PositionChanged(u)
	}
}

func (ls Listeners) StatusChanged(e StatusEvent) {
	for _, l := range ls {
		l.StatusChanged(e)
	}
}

func (ls Listeners) NotificationSent(n notify.Notification, err error) {
	for _, l := range ls {
		if nl, ok := l.(NotificationListener); ok {
			nl.NotificationSent(n, err)
		}
	}
}

type nopListener struct{}

func (nopListener) PositionChanged(PositionUpdate) {}
func (nopListener) StatusChanged(StatusEvent)      {}

// Snapshot is a point-in-time copy of a simulation for renderers.
type Snapshot struct {
	JourneyID       string      `json:"journeyId,omitempty"`
	Session         string      `json:"session"`
	Destination     string      `json:"destination,omitempty"`
	DestinationName string      `json:"destinationName,omitempty"`
	Status          Status      `json:"status"`
	Cursor          int         `json:"cursor"`
	PathLen         int         `json:"pathLen"`
	Position        geo.Point   `json:"position"`
	Bearing         float64     `json:"bearing"`
	TraveledPath    geo.Path    `json:"traveledPath"`
	StartPosition   geo.Point   `json:"startPosition"`
	HomePosition    geo.Point   `json:"homePosition"`
	Progress        float64     `json:"progress"`
	Ticks           int         `json:"ticks"`
	StartedAt       time.Time   `json:"startedAt,omitempty"`
	ResetPolicy     ResetPolicy `json:"-"`
}
