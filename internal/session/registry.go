// Package session keeps the mounted playback components, one per viewer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/internal/events"
	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/internal/observability"
	"github.com/signalsfoundry/route-playback/kb"
	"github.com/signalsfoundry/route-playback/model"
	"github.com/signalsfoundry/route-playback/timectrl"
)

var (
	// ErrSessionNotFound is returned for unknown or deleted session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownVariant is returned when the requested presentation variant
	// is not configured.
	ErrUnknownVariant = errors.New("unknown variant")
)

// Recorder receives playback metrics. *observability.PlaybackCollector
// satisfies it.
type Recorder interface {
	ObserveTick(completed bool)
	ObserveTransition(kind string)
	SetActiveSessions(n int)
}

// Variants resolves a presentation by variant name; an empty name selects
// the default. *config.Config satisfies it.
type Variants interface {
	Presentation(name string) (core.Presentation, error)
}

// Info is the externally visible summary of a session.
type Info struct {
	ID          string    `json:"id"`
	RouteID     string    `json:"route_id"`
	Variant     string    `json:"variant"`
	CreatedAt   time.Time `json:"created_at"`
	RouteLength int       `json:"route_length"`
	Degraded    bool      `json:"degraded"`
	// TickPeriodMS and SupportsPause describe the control surface.
	TickPeriodMS  int64               `json:"tick_period_ms"`
	SupportsPause bool                `json:"supports_pause"`
	State         model.PlaybackState `json:"state"`
}

// Update is delivered to scene subscribers after every change.
type Update struct {
	Change core.ChangeKind
	Scene  core.Scene
	// Closed is set on the final update of an unmounted session.
	Closed bool
}

// Session is one mounted component: a controller plus its presentation.
type Session struct {
	id           string
	variant      string
	created      time.Time
	degraded     bool
	presentation core.Presentation
	controller   *core.Controller
}

// Info summarises the session.
func (s *Session) Info() Info {
	return s.info(s.controller.State())
}

func (s *Session) info(st model.PlaybackState) Info {
	route := s.controller.Route()
	return Info{
		ID:            s.id,
		RouteID:       route.ID,
		Variant:       s.variant,
		CreatedAt:     s.created,
		RouteLength:   route.Len(),
		Degraded:      s.degraded,
		TickPeriodMS:  s.controller.TickPeriod().Milliseconds(),
		SupportsPause: s.controller.SupportsPause(),
		State:         st,
	}
}

// Scene renders the current frame.
func (s *Session) Scene() core.Scene {
	return core.Render(s.controller.Route(), s.controller.State(), s.presentation)
}

// Registry owns all mounted sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	routes   *kb.KnowledgeBase
	variants Variants

	sched   timectrl.Scheduler
	metrics Recorder
	pub     events.Publisher
	log     logging.Logger
	now     func() time.Time
	newID   func() string
}

// Option customises Registry construction.
type Option func(*Registry)

// WithScheduler makes every controller share s instead of the wall clock.
func WithScheduler(s timectrl.Scheduler) Option {
	return func(r *Registry) { r.sched = s }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(m Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithPublisher attaches a trip event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.pub = p
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator replaces the UUID session ID generator.
func WithIDGenerator(f func() string) Option {
	return func(r *Registry) {
		if f != nil {
			r.newID = f
		}
	}
}

// NewRegistry builds an empty registry over the route catalogue.
func NewRegistry(routes *kb.KnowledgeBase, variants Variants, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		routes:   routes,
		variants: variants,
		pub:      events.NoopPublisher{},
		log:      logging.Noop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Create mounts a component for routeID with the named variant and starts
// playback.
func (r *Registry) Create(ctx context.Context, routeID, variant string) (Info, error) {
	ctx, span := observability.StartChildSpan(ctx, "session.Create", "route", routeID,
		attribute.String("variant", variant))
	defer span.End()

	entry, err := r.routes.GetRoute(routeID)
	if err != nil {
		return Info{}, err
	}
	p, err := r.variants.Presentation(variant)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnknownVariant, err)
	}
	if variant == "" {
		variant = "default"
	}

	id := r.newID()
	log := r.log.With(logging.String("session_id", id), logging.String("route_id", routeID))
	opts := append(p.ControllerOptions(), core.WithLogger(log))
	if r.sched != nil {
		opts = append(opts, core.WithScheduler(r.sched))
	}

	s := &Session{
		id:           id,
		variant:      variant,
		created:      r.now().UTC(),
		degraded:     entry.Degraded,
		presentation: p,
		controller:   core.NewController(entry.Route, opts...),
	}
	s.controller.Subscribe(func(ch core.Change) { r.observe(s, ch) })

	r.mu.Lock()
	if _, dup := r.sessions[id]; dup {
		r.mu.Unlock()
		s.controller.Close()
		return Info{}, fmt.Errorf("session id %q already in use", id)
	}
	r.sessions[id] = s
	r.setActiveLocked()
	r.mu.Unlock()

	if err := s.controller.Start(); err != nil {
		_ = r.Delete(ctx, id)
		return Info{}, err
	}

	info := s.Info()
	r.publish(ctx, events.TripStarted, s, info.State)
	log.Info(ctx, "session mounted",
		logging.String("variant", variant),
		logging.Int("points", entry.Route.Len()),
		logging.Bool("degraded", entry.Degraded),
	)
	return info, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of mounted sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Toggle pauses or resumes the session.
func (r *Registry) Toggle(ctx context.Context, id string) (Info, error) {
	s, err := r.Get(id)
	if err != nil {
		return Info{}, err
	}
	ctx, span := observability.StartChildSpan(ctx, "session.Toggle", "session", id)
	defer span.End()

	st, err := s.controller.TogglePause(ctx)
	if err != nil {
		span.RecordError(err)
		return s.info(st), err
	}
	return s.info(st), nil
}

// Reset restarts the session from the first point.
func (r *Registry) Reset(ctx context.Context, id string) (Info, error) {
	s, err := r.Get(id)
	if err != nil {
		return Info{}, err
	}
	ctx, span := observability.StartChildSpan(ctx, "session.Reset", "session", id)
	defer span.End()

	st, err := s.controller.Reset(ctx)
	if err != nil {
		span.RecordError(err)
		return s.info(st), err
	}
	return s.info(st), nil
}

// Scene renders the session's current frame.
func (r *Registry) Scene(id string) (core.Scene, error) {
	s, err := r.Get(id)
	if err != nil {
		return core.Scene{}, err
	}
	return s.Scene(), nil
}

// Subscribe streams a rendered scene to fn after every change of the
// session. The last update of a deleted session has Closed set. fn must not
// call back into the registry for the same session.
func (r *Registry) Subscribe(id string, fn func(Update)) (unsubscribe func(), err error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	route := s.controller.Route()
	return s.controller.Subscribe(func(ch core.Change) {
		fn(Update{
			Change: ch.Kind,
			Scene:  core.Render(route, ch.State, s.presentation),
			Closed: ch.Kind == core.ChangeClose,
		})
	}), nil
}

// Delete unmounts the session and cancels its pending tick.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	delete(r.sessions, id)
	r.setActiveLocked()
	r.mu.Unlock()

	s.controller.Close()
	r.log.Info(ctx, "session unmounted", logging.String("session_id", id))
	return nil
}

// Close unmounts every session.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.setActiveLocked()
	r.mu.Unlock()

	for _, s := range all {
		s.controller.Close()
	}
	if len(all) > 0 {
		r.log.Info(ctx, "sessions closed", logging.Int("count", len(all)))
	}
}

// setActiveLocked publishes the session count. r.mu must be held so
// concurrent mounts and unmounts set the gauge in the order they happened.
func (r *Registry) setActiveLocked() {
	if r.metrics != nil {
		r.metrics.SetActiveSessions(len(r.sessions))
	}
}

// observe runs on every controller change.
func (r *Registry) observe(s *Session, ch core.Change) {
	if r.metrics != nil {
		if ch.Kind == core.ChangeTick {
			r.metrics.ObserveTick(ch.CompletedTrip())
		} else {
			r.metrics.ObserveTransition(ch.Kind.String())
		}
	}
	if eventType, ok := events.TypeForChange(ch); ok {
		r.publish(context.Background(), eventType, s, ch.State)
	}
}

func (r *Registry) publish(ctx context.Context, eventType string, s *Session, st model.PlaybackState) {
	route := s.controller.Route()
	evt := events.TripEvent{
		SessionID:    s.id,
		RouteID:      route.ID,
		Variant:      s.variant,
		CurrentIndex: st.CurrentIndex,
		RouteLength:  route.Len(),
		Phase:        st.Phase,
		Ticks:        st.Ticks,
		OccurredAt:   r.now().UTC(),
	}
	if err := r.pub.Publish(ctx, eventType, evt); err != nil {
		r.log.Warn(ctx, "trip event publish failed",
			logging.String("type", eventType),
			logging.String("session_id", s.id),
			logging.Err(err),
		)
	}
}
