package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/internal/config"
	"github.com/signalsfoundry/route-playback/internal/events"
	"github.com/signalsfoundry/route-playback/internal/observability"
	"github.com/signalsfoundry/route-playback/kb"
	"github.com/signalsfoundry/route-playback/model"
	"github.com/signalsfoundry/route-playback/timectrl"
)

type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	events []events.TripEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, evt events.TripEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type fixture struct {
	reg     *Registry
	sched   *timectrl.FakeScheduler
	pub     *recordingPublisher
	metrics *observability.PlaybackCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	routes := kb.NewKnowledgeBase()
	add := func(id string, pts ...model.Coordinate) {
		route := model.NewRoute(id, pts)
		if err := routes.AddRoute(kb.RouteEntry{Route: route, Source: "static", Degraded: !route.Usable()}); err != nil {
			t.Fatalf("AddRoute(%s): %v", id, err)
		}
	}
	add("e2e",
		model.Coordinate{Latitude: 28.85, Longitude: 77.10},
		model.Coordinate{Latitude: 28.86, Longitude: 77.11},
		model.Coordinate{Latitude: 28.87, Longitude: 77.12},
	)
	add("dot", model.Coordinate{Latitude: 1, Longitude: 1})

	metrics, err := observability.NewPlaybackCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}
	f := &fixture{
		sched:   timectrl.NewFakeScheduler(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
		pub:     &recordingPublisher{},
		metrics: metrics,
	}
	var n atomic.Int64
	f.reg = NewRegistry(routes, config.Default(),
		WithScheduler(f.sched),
		WithPublisher(f.pub),
		WithRecorder(metrics),
		WithIDGenerator(func() string {
			return fmt.Sprintf("s-%d", n.Add(1))
		}),
	)
	t.Cleanup(func() { f.reg.Close(context.Background()) })
	return f
}

func TestCreateStartsPlayback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.reg.Create(ctx, "e2e", "pausable")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.ID != "s-1" || info.RouteID != "e2e" || info.RouteLength != 3 || !info.State.AtStart() {
		t.Fatalf("info = %+v", info)
	}
	if info.TickPeriodMS != core.DefaultTickPeriod.Milliseconds() || !info.SupportsPause {
		t.Fatalf("control surface = %d ms, pause %v", info.TickPeriodMS, info.SupportsPause)
	}
	if got := testutil.ToFloat64(f.metrics.SessionsActive); got != 1 {
		t.Fatalf("active sessions = %v", got)
	}

	f.sched.Advance(2 * core.DefaultTickPeriod)
	scene, err := f.reg.Scene(info.ID)
	if err != nil {
		t.Fatalf("Scene: %v", err)
	}
	vehicle, _ := scene.Marker(core.MarkerVehicle)
	if vehicle.Position != (model.Coordinate{Latitude: 28.87, Longitude: 77.12}) || !scene.State.IsComplete {
		t.Fatalf("scene after two ticks: vehicle %v state %+v", vehicle.Position, scene.State)
	}
	if scene.Route.Tooltip.Text != "Route from Rishihood to Pacific Mall" {
		t.Fatalf("variant labels not applied: %q", scene.Route.Tooltip.Text)
	}

	if got := testutil.ToFloat64(f.metrics.Ticks); got != 2 {
		t.Fatalf("ticks metric = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.Completions); got != 1 {
		t.Fatalf("completions metric = %v", got)
	}
	want := []string{events.TripStarted, events.TripCompleted}
	if fmt.Sprint(f.pub.Types()) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", f.pub.Types(), want)
	}
}

func TestCreateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.reg.Create(ctx, "missing", ""); !errors.Is(err, kb.ErrRouteNotFound) {
		t.Fatalf("unknown route error = %v", err)
	}
	if _, err := f.reg.Create(ctx, "e2e", "fancy"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("unknown variant error = %v", err)
	}
	if f.reg.Len() != 0 {
		t.Fatalf("failed creates left %d sessions", f.reg.Len())
	}
}

func TestToggleAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "e2e", "")

	f.sched.Advance(core.DefaultTickPeriod)
	paused, err := f.reg.Toggle(ctx, info.ID)
	if err != nil || !paused.State.IsPaused || paused.State.CurrentIndex != 1 {
		t.Fatalf("Toggle = %+v, %v", paused.State, err)
	}
	f.sched.Advance(5 * core.DefaultTickPeriod)
	if s, _ := f.reg.Get(info.ID); s.Info().State.CurrentIndex != 1 {
		t.Fatalf("paused session moved")
	}

	reset, err := f.reg.Reset(ctx, info.ID)
	if err != nil || !reset.State.AtStart() {
		t.Fatalf("Reset = %+v, %v", reset.State, err)
	}

	want := []string{events.TripStarted, events.TripPaused, events.TripReset}
	if fmt.Sprint(f.pub.Types()) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", f.pub.Types(), want)
	}
	if got := testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("pause")); got != 1 {
		t.Fatalf("pause transitions = %v", got)
	}
}

func TestToggleWithoutPauseSupport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "e2e", "classic")

	got, err := f.reg.Toggle(ctx, info.ID)
	if !errors.Is(err, core.ErrPauseUnsupported) {
		t.Fatalf("Toggle error = %v", err)
	}
	if !got.State.IsMoving {
		t.Fatalf("state = %+v", got.State)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.reg.Toggle(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Toggle error = %v", err)
	}
	if _, err := f.reg.Reset(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Reset error = %v", err)
	}
	if _, err := f.reg.Scene("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Scene error = %v", err)
	}
	if _, err := f.reg.Subscribe("nope", func(Update) {}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Subscribe error = %v", err)
	}
	if err := f.reg.Delete(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Delete error = %v", err)
	}
}

func TestDeleteCancelsTicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "e2e", "")
	s, _ := f.reg.Get(info.ID)

	if err := f.reg.Delete(ctx, info.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("tick still armed after delete")
	}
	f.sched.Advance(10 * core.DefaultTickPeriod)
	if got := s.Info().State.CurrentIndex; got != 0 {
		t.Fatalf("unmounted controller advanced to %d", got)
	}
	if _, err := f.reg.Get(info.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after delete error = %v", err)
	}
	types := f.pub.Types()
	if types[len(types)-1] != events.TripUnmounted {
		t.Fatalf("events = %v, want trailing %s", types, events.TripUnmounted)
	}
	if got := testutil.ToFloat64(f.metrics.SessionsActive); got != 0 {
		t.Fatalf("active sessions = %v", got)
	}
}

func TestSubscribeStreamsScenes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.reg.Create(ctx, "e2e", "")

	var updates []Update
	unsubscribe, err := f.reg.Subscribe(info.ID, func(u Update) { updates = append(updates, u) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	f.sched.Advance(core.DefaultTickPeriod)
	if len(updates) != 1 || updates[0].Change != core.ChangeTick {
		t.Fatalf("updates after tick = %+v", updates)
	}
	v, _ := updates[0].Scene.Marker(core.MarkerVehicle)
	if v.Position != (model.Coordinate{Latitude: 28.86, Longitude: 77.11}) {
		t.Fatalf("streamed vehicle at %v", v.Position)
	}

	_ = f.reg.Delete(ctx, info.ID)
	if last := updates[len(updates)-1]; !last.Closed {
		t.Fatalf("last update not marked closed: %+v", last)
	}
	unsubscribe()
}

func TestDegradedRouteSession(t *testing.T) {
	f := newFixture(t)
	info, err := f.reg.Create(context.Background(), "dot", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !info.Degraded || !info.State.IsComplete {
		t.Fatalf("info = %+v", info)
	}
	scene, _ := f.reg.Scene(info.ID)
	if !scene.Degraded || len(scene.Markers) != 1 {
		t.Fatalf("scene = %+v", scene)
	}
}

func TestListAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 3 {
		if _, err := f.reg.Create(ctx, "e2e", ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	list := f.reg.List()
	if len(list) != 3 || list[0].ID != "s-1" || list[2].ID != "s-3" {
		t.Fatalf("List = %+v", list)
	}

	f.reg.Close(ctx)
	if f.reg.Len() != 0 || f.sched.Pending() != 0 {
		t.Fatalf("Close left %d sessions and %d ticks", f.reg.Len(), f.sched.Pending())
	}
}

func TestPublishFailureDoesNotBreakPlayback(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	info, err := f.reg.Create(context.Background(), "e2e", "")
	if err != nil {
		t.Fatalf("Create with failing publisher: %v", err)
	}
	f.sched.Advance(2 * core.DefaultTickPeriod)
	s, _ := f.reg.Get(info.ID)
	if !s.Info().State.IsComplete {
		t.Fatalf("playback stalled when publishing failed")
	}
}

func TestActiveSessionsGaugeUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := f.reg.Create(ctx, "e2e", "")
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			if i%2 == 0 {
				if err := f.reg.Delete(ctx, info.ID); err != nil {
					t.Errorf("Delete: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if f.reg.Len() != 8 {
		t.Fatalf("Len = %d, want 8", f.reg.Len())
	}
	if got := testutil.ToFloat64(f.metrics.SessionsActive); got != 8 {
		t.Fatalf("active sessions gauge = %v, want 8", got)
	}
}
