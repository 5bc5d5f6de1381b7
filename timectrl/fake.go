package timectrl

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// FakeScheduler is a Scheduler with a manual clock. Tests call Advance to
// move time forward; due events run in time order, including events that
// callbacks schedule while the advance is in progress.
type FakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	// events ordered by 'when' (earliest first); ties keep insertion order.
	events []*fakeEvent
	index  map[string]*fakeEvent
}

type fakeEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// NewFakeScheduler creates a fake scheduler starting at start.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{
		now:   start,
		index: make(map[string]*fakeEvent),
	}
}

// Now returns the current fake time.
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers f to run at the given fake time.
func (s *FakeScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := fmt.Sprintf("fake-%d", s.counter)
	ev := &fakeEvent{id: id, when: at, f: f}

	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

// Cancel marks the event as cancelled. Unknown IDs are ignored.
func (s *FakeScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

// Pending returns the number of scheduled, not yet run, not cancelled events.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Advance moves the clock forward by d, running every event that becomes
// due. The clock reads each event's time while its callback runs.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	s.AdvanceTo(target)
}

// AdvanceTo moves the clock to t, running due events in order. Moving
// backwards is ignored.
func (s *FakeScheduler) AdvanceTo(t time.Time) {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(t)
		if ev == nil {
			if t.After(s.now) {
				s.now = t
			}
			s.mu.Unlock()
			return
		}
		if ev.when.After(s.now) {
			s.now = ev.when
		}
		delete(s.index, ev.id)
		s.mu.Unlock()

		if ev.f != nil {
			ev.f()
		}
	}
}

// popDueLocked removes and returns the earliest live event due at or before
// t. Caller must hold s.mu.
func (s *FakeScheduler) popDueLocked(t time.Time) *fakeEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(t) {
			return nil
		}
		s.events = s.events[1:]
		return ev
	}
	return nil
}
