package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"notiapp/internal/sim"
)

const subjectRoot = "journeys"

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NewNATSPublisher connects to NATS and, when streamName is set, makes sure a
// JetStream stream captures every journey subject.
func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics, streamName string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("notiapp"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	if streamName != "" {
		if err := ensureStream(nc, streamName); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func ensureStream(nc *nats.Conn, name string) error {
	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subjectRoot + ".>"},
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	log.Info().Str("stream", name).Msg("created jetstream stream")
	return nil
}

// Conn exposes the connection so other components (notification sink) can share it.
func (p *NATSPublisher) Conn() *nats.Conn { return p.nc }

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type PositionMessage struct {
	JourneyID   string    `json:"journeyId"`
	Session     string    `json:"session"`
	Destination string    `json:"destination"`
	Timestamp   time.Time `json:"timestamp"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Bearing     float64   `json:"bearing"`
	Progress    float64   `json:"progress"`
	Cursor      int       `json:"cursor"`
	PathLen     int       `json:"pathLen"`
}

type EventMessage struct {
	JourneyID   string    `json:"journeyId"`
	Session     string    `json:"session"`
	Destination string    `json:"destination"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Ticks       int       `json:"ticks"`
	Timestamp   time.Time `json:"timestamp"`
}

func PositionSubject(destination, session string) string {
	return fmt.Sprintf("%s.%s.%s", subjectRoot, subjectToken(destination), subjectToken(session))
}

func EventSubject(session string) string {
	return fmt.Sprintf("%s.events.%s", subjectRoot, subjectToken(session))
}

func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	return p.publish(PositionSubject(msg.Destination, msg.Session), msg)
}

func (p *NATSPublisher) PublishEvent(msg EventMessage) error {
	return p.publish(EventSubject(msg.Session), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// PositionChanged implements sim.Listener.
func (p *NATSPublisher) PositionChanged(u sim.PositionUpdate) {
	if err := p.PublishPosition(NewPositionMessage(u)); err != nil {
		log.Error().Err(err).Str("session", u.Session).Msg("publish position")
	}
}

// StatusChanged implements sim.Listener.
func (p *NATSPublisher) StatusChanged(e sim.StatusEvent) {
	if err := p.PublishEvent(NewEventMessage(e)); err != nil {
		log.Error().Err(err).Str("session", e.Session).Msg("publish journey event")
	}
}

func NewPositionMessage(u sim.PositionUpdate) PositionMessage {
	return PositionMessage{
		JourneyID:   u.JourneyID,
		Session:     u.Session,
		Destination: u.Destination,
		Timestamp:   u.Timestamp,
		Lat:         u.Position.Lat,
		Lon:         u.Position.Lon,
		Bearing:     u.Bearing,
		Progress:    u.Progress,
		Cursor:      u.Cursor,
		PathLen:     u.PathLen,
	}
}

func NewEventMessage(e sim.StatusEvent) EventMessage {
	return EventMessage{
		JourneyID:   e.JourneyID,
		Session:     e.Session,
		Destination: e.Destination,
		From:        e.From.String(),
		To:          e.To.String(),
		Ticks:       e.Ticks,
		Timestamp:   e.Timestamp,
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
