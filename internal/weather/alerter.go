package weather

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"notiapp/internal/geo"
	"notiapp/internal/notify"
)

const DefaultNotifyDelay = 2 * time.Second

// Observer receives check outcomes, used for metrics.
type Observer interface {
	CheckDone(result string)
	AlertFired(rule string)
}

// Report is a reading with the alerts it triggered.
type Report struct {
	Reading Reading `json:"weather"`
	Alerts  []Alert `json:"alerts"`
}

type Alerter struct {
	provider Provider
	rules    *Rules
	sink     notify.Sink
	delay    time.Duration
	observer Observer
}

func NewAlerter(provider Provider, rules *Rules, sink notify.Sink, delay time.Duration, observer Observer) *Alerter {
	if rules == nil {
		rules = &Rules{}
	}
	return &Alerter{provider: provider, rules: rules, sink: sink, delay: delay, observer: observer}
}

// Check fetches the weather at p and evaluates the rules.
func (a *Alerter) Check(ctx context.Context, p geo.Point) (Report, error) {
	r, err := a.provider.Current(ctx, p)
	if err != nil {
		a.checkDone("error")
		return Report{}, err
	}
	a.checkDone("ok")
	alerts, err := a.rules.Evaluate(r)
	if err != nil {
		log.Warn().Err(err).Msg("weather rule evaluation")
	}
	if a.observer != nil {
		for _, al := range alerts {
			a.observer.AlertFired(al.Rule)
		}
	}
	return Report{Reading: r, Alerts: alerts}, nil
}

// Notify checks the weather at p and sends a "Weather Update" notification.
func (a *Alerter) Notify(ctx context.Context, p geo.Point) (Report, error) {
	rep, err := a.Check(ctx, p)
	if err != nil {
		return Report{}, err
	}
	if err := a.Send(ctx, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// Send dispatches the notification for an existing report.
func (a *Alerter) Send(ctx context.Context, rep Report) error {
	n := NotificationFor(rep, a.delay)
	if err := a.sink.Notify(ctx, n); err != nil {
		log.Error().Err(err).Str("city", rep.Reading.City).Msg("weather notification failed")
		return fmt.Errorf("send weather notification: %w", err)
	}
	log.Info().Str("city", rep.Reading.City).Int("alerts", len(rep.Alerts)).Msg("weather notification scheduled")
	return nil
}

// NotificationFor renders the user-facing notification for a report.
func NotificationFor(rep Report, delay time.Duration) notify.Notification {
	var body strings.Builder
	fmt.Fprintf(&body, "Current temperature: %.1f°C", rep.Reading.TemperatureC)
	for _, al := range rep.Alerts {
		body.WriteString("\n")
		body.WriteString(al.Message)
	}
	return notify.Notification{
		Topic: "weather",
		Title: fmt.Sprintf("Weather Update for %s", rep.Reading.City),
		Body:  body.String(),
		Delay: delay,
		Ref:   rep.Reading.City,
	}
}

func (a *Alerter) checkDone(result string) {
	if a.observer != nil {
		a.observer.CheckDone(result)
	}
}

// Watcher polls a fixed point and notifies when the set of active alerts changes.
type Watcher struct {
	alerter  *Alerter
	point    geo.Point
	interval time.Duration

	mu      sync.Mutex
	lastKey string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWatcher(alerter *Alerter, point geo.Point, interval time.Duration) *Watcher {
	return &Watcher{alerter: alerter, point: point, interval: interval, lastKey: alertKey(nil)}
}

// Start launches the polling loop. A non-positive interval disables it.
func (w *Watcher) Start(parent context.Context) {
	if w.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if _, err := w.CheckOnce(ctx); err != nil {
			log.Warn().Err(err).Msg("weather watch")
		}
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.CheckOnce(ctx); err != nil {
					log.Warn().Err(err).Msg("weather watch")
				}
			}
		}
	}()
}

func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// CheckOnce runs one poll and reports whether a notification was sent.
// Alerts clearing resets the state silently.
func (w *Watcher) CheckOnce(ctx context.Context) (bool, error) {
	rep, err := w.alerter.Check(ctx, w.point)
	if err != nil {
		return false, err
	}
	key := alertKey(rep.Alerts)

	w.mu.Lock()
	changed := key != w.lastKey
	w.lastKey = key
	w.mu.Unlock()

	if !changed || len(rep.Alerts) == 0 {
		return false, nil
	}
	if err := w.alerter.Send(ctx, rep); err != nil {
		return false, err
	}
	return true, nil
}
