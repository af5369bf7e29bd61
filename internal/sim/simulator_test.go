package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notiapp/internal/geo"
	"notiapp/internal/notify"
)

var (
	ptA = geo.Point{Lat: 43.2380, Lon: 76.8829}
	ptB = geo.Point{Lat: 43.2390, Lon: 76.8840}
	ptC = geo.Point{Lat: 43.2400, Lon: 76.8851}
	ptD = geo.Point{Lat: 43.2410, Lon: 76.8862}
)

type recorder struct {
	mu        sync.Mutex
	positions []PositionUpdate
	events    []StatusEvent
	sent      []error
}

func (r *recorder) PositionChanged(u PositionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, u)
}

func (r *recorder) StatusChanged(e StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) NotificationSent(_ notify.Notification, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, err)
}

func (r *recorder) positionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.positions)
}

type countingSink struct {
	mu    sync.Mutex
	calls []notify.Notification
	err   error
}

func (s *countingSink) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	return s.err
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestSim(cfg Config) (*Simulator, *ManualScheduler, *countingSink, *recorder) {
	sched := NewManualScheduler()
	sink := &countingSink{}
	rec := &recorder{}
	return NewSimulator("rider-1", cfg, sched, sink, rec), sched, sink, rec
}

func TestStartRejectsEmptyPath(t *testing.T) {
	s, sched, _, rec := newTestSim(Config{})

	err := s.Start(nil, ptA, StartOptions{})
	require.ErrorIs(t, err, ErrInvalidStartConditions)

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.Status)
	assert.Zero(t, sched.Active())
	assert.Empty(t, rec.events)
}

func TestThreePointPath(t *testing.T) {
	s, sched, _, rec := newTestSim(Config{})
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, ptA, StartOptions{DestinationID: "central"}))

	snap := s.Snapshot()
	assert.Equal(t, Running, snap.Status)
	assert.Equal(t, 0, snap.Cursor)
	assert.Equal(t, geo.Path{ptA}, snap.TraveledPath)

	sched.Advance(time.Second)
	snap = s.Snapshot()
	assert.Equal(t, ptB, snap.Position)
	assert.Equal(t, geo.Path{ptA, ptB}, snap.TraveledPath)

	sched.Advance(time.Second)
	snap = s.Snapshot()
	assert.Equal(t, ptC, snap.Position)
	assert.Equal(t, geo.Path{ptA, ptB, ptC}, snap.TraveledPath)
	assert.Equal(t, 1.0, snap.Progress)

	sched.Advance(time.Second)
	snap = s.Snapshot()
	assert.Equal(t, ptC, snap.Position)
	assert.Equal(t, geo.Path{ptA, ptB, ptC}, snap.TraveledPath)
	assert.Equal(t, Completed, snap.Status)
	assert.Zero(t, sched.Active(), "exhausted path cancels the schedule")

	assert.Equal(t, 2, rec.positionCount())
	require.Len(t, rec.events, 2)
	assert.Equal(t, Running, rec.events[1].From)
	assert.Equal(t, Completed, rec.events[1].To)
}

func TestRunsToEndOfPath(t *testing.T) {
	for _, n := range []int{1, 2, 5, 17} {
		path := make(geo.Path, n)
		for i := range path {
			path[i] = geo.Point{Lat: 40 + float64(i)*0.001, Lon: -3}
		}
		s, sched, _, _ := newTestSim(Config{})
		require.NoError(t, s.Start(path, path[0], StartOptions{}))

		sched.Advance(time.Duration(n-1) * time.Second)

		snap := s.Snapshot()
		assert.Equal(t, n-1, snap.Cursor, "n=%d", n)
		assert.Equal(t, path, snap.TraveledPath, "n=%d", n)
		assert.Equal(t, len(snap.TraveledPath), snap.Cursor+1)
	}
}

func TestTraveledPathKeepsDistinctInitialPosition(t *testing.T) {
	s, sched, _, _ := newTestSim(Config{})
	origin := geo.Point{Lat: 43.2370, Lon: 76.8820}
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, origin, StartOptions{}))

	sched.Advance(2 * time.Second)
	assert.Equal(t, geo.Path{origin, ptB, ptC}, s.Snapshot().TraveledPath)
}

func TestStopDiscardsProgress(t *testing.T) {
	home := geo.Point{Lat: 43.20, Lon: 76.80}
	s, sched, sink, rec := newTestSim(Config{Home: home})
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC, ptD}, ptA, StartOptions{}))
	sched.Advance(2 * time.Second)

	s.Stop()
	snap := s.Snapshot()
	assert.Equal(t, Stopped, snap.Status)
	assert.Equal(t, 0, snap.Cursor)
	assert.Empty(t, snap.TraveledPath)
	assert.Equal(t, home, snap.Position)

	before := rec.positionCount()
	sched.Advance(10 * time.Second)
	assert.Equal(t, before, rec.positionCount())
	assert.Equal(t, snap, s.Snapshot())
	assert.Zero(t, sink.count())

	// idempotent
	s.Stop()
	assert.Equal(t, Stopped, s.Snapshot().Status)
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	s, _, _, rec := newTestSim(Config{})
	s.Stop()
	assert.Equal(t, Idle, s.Snapshot().Status)
	assert.Empty(t, rec.events)
}

func TestResetToJourneyStart(t *testing.T) {
	home := geo.Point{Lat: 43.20, Lon: 76.80}
	s, sched, _, _ := newTestSim(Config{Home: home, ResetPolicy: ResetToJourneyStart})
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, ptA, StartOptions{}))
	sched.Advance(time.Second)

	s.Stop()
	snap := s.Snapshot()
	assert.Equal(t, ptA, snap.Position)
	assert.Equal(t, home, snap.HomePosition)
	assert.Equal(t, ptA, snap.StartPosition)
}

func TestHomeDefaultsToFirstStart(t *testing.T) {
	s, sched, _, _ := newTestSim(Config{})
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, ptA, StartOptions{}))
	sched.Advance(time.Second)
	s.Stop()

	require.NoError(t, s.Start(geo.Path{ptC, ptD}, ptC, StartOptions{}))
	s.End()
	s.Drain()
	assert.Equal(t, ptA, s.Snapshot().Position)
}

func TestEndFiresOneNotification(t *testing.T) {
	s, sched, sink, rec := newTestSim(Config{CompletionDelay: 2 * time.Second})
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, ptA, StartOptions{DestinationID: "central", DestinationName: "Central Station"}))
	sched.Advance(time.Second)

	s.End()
	s.End()
	s.Drain()

	assert.Equal(t, 1, sink.count())
	n := sink.calls[0]
	assert.Equal(t, "Journey complete", n.Title)
	assert.Equal(t, "You have arrived at Central Station.", n.Body)
	assert.Equal(t, 2*time.Second, n.Delay)

	snap := s.Snapshot()
	assert.Equal(t, Ended, snap.Status)
	assert.Equal(t, 0, snap.Cursor)
	assert.Empty(t, snap.TraveledPath)
	assert.Equal(t, ptA, snap.Position)
	assert.Zero(t, sched.Active())

	require.Len(t, rec.sent, 1)
	assert.NoError(t, rec.sent[0])
}

func TestEndAfterCompletion(t *testing.T) {
	s, sched, sink, _ := newTestSim(Config{})
	require.NoError(t, s.Start(geo.Path{ptA, ptB}, ptA, StartOptions{}))
	sched.Advance(5 * time.Second)
	require.Equal(t, Completed, s.Snapshot().Status)

	s.End()
	s.Drain()
	assert.Equal(t, Ended, s.Snapshot().Status)
	assert.Equal(t, 1, sink.count())
}

func TestEndIgnoredWhenNotActive(t *testing.T) {
	s, _, sink, _ := newTestSim(Config{})
	s.End()
	s.Drain()
	assert.Equal(t, Idle, s.Snapshot().Status)
	assert.Zero(t, sink.count())
}

func TestNotificationFailureDoesNotAffectState(t *testing.T) {
	s, _, sink, rec := newTestSim(Config{})
	sink.err = errors.New("push service unavailable")
	require.NoError(t, s.Start(geo.Path{ptA, ptB}, ptA, StartOptions{}))

	s.End()
	s.Drain()

	assert.Equal(t, Ended, s.Snapshot().Status)
	assert.Equal(t, 1, sink.count())
	require.Len(t, rec.sent, 1)
	assert.Error(t, rec.sent[0])
}

func TestRestartWhileRunningKeepsSingleTickStream(t *testing.T) {
	s, sched, _, rec := newTestSim(Config{})
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC, ptD}, ptA, StartOptions{}))
	sched.Advance(time.Second)
	first := s.Snapshot().JourneyID

	require.NoError(t, s.Start(geo.Path{ptD, ptC, ptB, ptA}, ptD, StartOptions{}))
	assert.Equal(t, 1, sched.Active())
	assert.NotEqual(t, first, s.Snapshot().JourneyID)

	before := rec.positionCount()
	sched.Advance(time.Second)
	assert.Equal(t, before+1, rec.positionCount())
	assert.Equal(t, ptC, s.Snapshot().Position)
	assert.Equal(t, geo.Path{ptD, ptC}, s.Snapshot().TraveledPath)
}

func TestRestartReportsSupersededJourneyStopped(t *testing.T) {
	s, sched, _, rec := newTestSim(Config{})
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, ptA, StartOptions{DestinationID: "central"}))
	sched.Advance(time.Second)
	first := s.Snapshot()

	require.NoError(t, s.Start(geo.Path{ptC, ptB}, ptC, StartOptions{DestinationID: "airport"}))
	second := s.Snapshot()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 3)

	old := rec.events[1]
	assert.Equal(t, first.JourneyID, old.JourneyID)
	assert.Equal(t, Running, old.From)
	assert.Equal(t, Stopped, old.To)
	assert.Equal(t, 1, old.Ticks)
	assert.Equal(t, "central", old.Destination)
	assert.Equal(t, first.StartedAt, old.StartedAt)

	started := rec.events[2]
	assert.Equal(t, second.JourneyID, started.JourneyID)
	assert.Equal(t, Stopped, started.From)
	assert.Equal(t, Running, started.To)
	assert.Equal(t, "airport", started.Destination)
}

func TestStaleTickIsIgnored(t *testing.T) {
	sched := NewManualScheduler()
	s := NewSimulator("rider", Config{}, sched, nil, nil)
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, ptA, StartOptions{}))

	// simulate a tick that was already in flight when Stop ran
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.Stop()
	s.onTick(gen)

	assert.Equal(t, Stopped, s.Snapshot().Status)
	assert.Equal(t, 0, s.Snapshot().Cursor)
}

func TestSnapshotIsACopy(t *testing.T) {
	s, sched, _, _ := newTestSim(Config{})
	path := geo.Path{ptA, ptB, ptC}
	require.NoError(t, s.Start(path, ptA, StartOptions{}))
	sched.Advance(time.Second)

	snap := s.Snapshot()
	snap.TraveledPath[0] = ptD
	path[1] = ptD
	assert.Equal(t, geo.Path{ptA, ptB}, s.Snapshot().TraveledPath)
}

func TestTickerSchedulerDrivesSimulator(t *testing.T) {
	sched := NewTickerScheduler()
	defer sched.Close()
	rec := &recorder{}
	s := NewSimulator("rider", Config{TickInterval: 5 * time.Millisecond}, sched, &countingSink{}, rec)
	require.NoError(t, s.Start(geo.Path{ptA, ptB, ptC}, ptA, StartOptions{}))

	require.Eventually(t, func() bool {
		return s.Snapshot().Status == Completed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, geo.Path{ptA, ptB, ptC}, s.Snapshot().TraveledPath)
	assert.Equal(t, 2, rec.positionCount())
	assert.Zero(t, sched.Active())
}

func TestParseResetPolicy(t *testing.T) {
	p, err := ParseResetPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ResetToHome, p)

	p, err = ParseResetPolicy(" Start ")
	require.NoError(t, err)
	assert.Equal(t, ResetToJourneyStart, p)

	_, err = ParseResetPolicy("nowhere")
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "completed", Completed.String())
	b, err := Ended.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ended", string(b))
}
