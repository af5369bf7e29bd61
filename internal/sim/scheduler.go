package sim

import (
	"context"
	"sync"
	"time"
)

// TickerScheduler runs each schedule on its own goroutine driven by a time.Ticker.
type TickerScheduler struct {
	mu      sync.Mutex
	next    Handle
	running map[Handle]context.CancelFunc
	wg      sync.WaitGroup
}

func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{running: make(map[Handle]context.CancelFunc)}
}

func (s *TickerScheduler) ScheduleRepeating(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	s.mu.Lock()
	s.next++
	h := s.next
	ctx, cancel := context.WithCancel(context.Background())
	s.running[h] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			// Cancel may have raced with the tick.
			if ctx.Err() != nil {
				return
			}
			fn()
		}
	}()
	return h
}

// Cancel stops future ticks for h. It does not wait for an in-flight callback,
// so it is safe to call from inside one.
func (s *TickerScheduler) Cancel(h Handle) {
	s.mu.Lock()
	if cancel, ok := s.running[h]; ok {
		cancel()
		delete(s.running, h)
	}
	s.mu.Unlock()
}

// Active returns the number of live schedules.
func (s *TickerScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Close cancels every schedule and waits for the goroutines to exit.
func (s *TickerScheduler) Close() {
	s.mu.Lock()
	for h, cancel := range s.running {
		cancel()
		delete(s.running, h)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ManualScheduler fires callbacks only when Advance is called. Deterministic
// stand-in for TickerScheduler in tests and in the headless simulate command.
type ManualScheduler struct {
	mu      sync.Mutex
	next    Handle
	entries []*manualEntry
}

type manualEntry struct {
	h        Handle
	interval time.Duration
	elapsed  time.Duration
	fn       func()
}

func NewManualScheduler() *ManualScheduler { return &ManualScheduler{} }

func (s *ManualScheduler) ScheduleRepeating(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.entries = append(s.entries, &manualEntry{h: s.next, interval: interval, fn: fn})
	return s.next
}

func (s *ManualScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.h == h {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Active returns the number of live schedules.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Advance moves simulated time forward by d and fires every callback that
// became due, in schedule order. Callbacks run without the scheduler lock held.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	pending := make([]*manualEntry, len(s.entries))
	copy(pending, s.entries)
	s.mu.Unlock()

	for _, e := range pending {
		s.mu.Lock()
		e.elapsed += d
		s.mu.Unlock()
		for {
			s.mu.Lock()
			due := s.live(e) && e.elapsed >= e.interval
			if due {
				e.elapsed -= e.interval
			}
			s.mu.Unlock()
			if !due {
				break
			}
			e.fn()
		}
	}
}

// Tick fires every live callback exactly once.
func (s *ManualScheduler) Tick() {
	s.mu.Lock()
	pending := make([]*manualEntry, len(s.entries))
	copy(pending, s.entries)
	s.mu.Unlock()
	for _, e := range pending {
		s.mu.Lock()
		ok := s.live(e)
		s.mu.Unlock()
		if ok {
			e.fn()
		}
	}
}

func (s *ManualScheduler) live(e *manualEntry) bool {
	for _, x := range s.entries {
		if x == e {
			return true
		}
	}
	return false
}
