package timectrl

import (
	"fmt"
	"sync"
	"time"
)

// SimClock is an interface for reading the current time. Components depend
// on it instead of time.Now so tests can drive time explicitly.
type SimClock interface {
	Now() time.Time
}

// Scheduler runs callbacks at a given time on a SimClock.
//
// Schedule returns an opaque ID that Cancel accepts. Cancel is a no-op for
// unknown IDs and for events that already ran. Callbacks run outside any
// scheduler lock so they may schedule or cancel other events.
type Scheduler interface {
	SimClock
	Schedule(at time.Time, f func()) (id string)
	Cancel(id string)
}

// WallScheduler schedules callbacks on the wall clock using time.AfterFunc.
type WallScheduler struct {
	mu      sync.Mutex
	counter uint64
	timers  map[string]*time.Timer
}

// NewWallScheduler returns a scheduler backed by real timers.
func NewWallScheduler() *WallScheduler {
	return &WallScheduler{timers: make(map[string]*time.Timer)}
}

// Now returns the wall-clock time.
func (s *WallScheduler) Now() time.Time { return time.Now() }

// Schedule arms a timer that fires f at (or shortly after) at. Times in the
// past fire immediately.
func (s *WallScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := fmt.Sprintf("wall-%d", s.counter)

	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live && f != nil {
			f()
		}
	})
	return id
}

// Cancel stops the timer for id if it has not fired yet.
func (s *WallScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed timers.
func (s *WallScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
