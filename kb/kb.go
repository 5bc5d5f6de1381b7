package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/route-playback/model"
)

var (
	// ErrRouteExists is returned when adding a route whose ID is taken.
	ErrRouteExists = errors.New("route already exists")
	// ErrRouteNotFound is returned for unknown route IDs.
	ErrRouteNotFound = errors.New("route not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventRouteAdded EventType = iota
	EventRouteRemoved
)

// Event is emitted to subscribers when the route catalogue changes.
type Event struct {
	Type    EventType
	RouteID string
	Entry   RouteEntry
}

// RouteEntry is one loaded route plus how it was loaded. Degraded routes
// are kept so the UI can still show their notice; LoadError says why.
type RouteEntry struct {
	Route     model.Route
	Source    string
	Degraded  bool
	LoadError string
}

// KnowledgeBase is an in-memory, thread-safe catalogue of routes.
type KnowledgeBase struct {
	mu sync.RWMutex

	routes map[string]RouteEntry

	subs    map[int]func(Event)
	nextSub int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		routes: make(map[string]RouteEntry),
		subs:   make(map[int]func(Event)),
	}
}

// AddRoute adds a route. It returns ErrRouteExists if the ID is taken.
func (kb *KnowledgeBase) AddRoute(e RouteEntry) error {
	id := e.Route.ID
	if id == "" {
		return fmt.Errorf("route ID is required")
	}

	kb.mu.Lock()
	if _, exists := kb.routes[id]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("route %q: %w", id, ErrRouteExists)
	}
	kb.routes[id] = e
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, Event{Type: EventRouteAdded, RouteID: id, Entry: e})
	return nil
}

// RemoveRoute drops a route from the catalogue.
func (kb *KnowledgeBase) RemoveRoute(id string) error {
	kb.mu.Lock()
	e, ok := kb.routes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("route %q: %w", id, ErrRouteNotFound)
	}
	delete(kb.routes, id)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventRouteRemoved, RouteID: id, Entry: e})
	return nil
}

// GetRoute returns the entry for id or ErrRouteNotFound.
func (kb *KnowledgeBase) GetRoute(id string) (RouteEntry, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	e, ok := kb.routes[id]
	if !ok {
		return RouteEntry{}, fmt.Errorf("route %q: %w", id, ErrRouteNotFound)
	}
	return e, nil
}

// ListRoutes returns a snapshot of all entries ordered by route ID.
func (kb *KnowledgeBase) ListRoutes() []RouteEntry {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]RouteEntry, 0, len(kb.routes))
	for _, e := range kb.routes {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Route.ID < res[j].Route.ID })
	return res
}

// Len returns the number of routes.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.routes)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(kb.subs))
	for _, fn := range kb.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		if sub != nil {
			sub(ev)
		}
	}
}
