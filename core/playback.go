package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/model"
	"github.com/signalsfoundry/route-playback/timectrl"
)

// DefaultTickPeriod is the interval between index advances.
const DefaultTickPeriod = 300 * time.Millisecond

var (
	// ErrPauseUnsupported is returned by TogglePause when the controller was
	// built without pause support.
	ErrPauseUnsupported = errors.New("pause is not supported")
	// ErrControllerClosed is returned by actions after Close.
	ErrControllerClosed = errors.New("playback controller closed")
)

// ChangeKind identifies what caused a state change.
type ChangeKind int

const (
	ChangeTick ChangeKind = iota
	ChangePause
	ChangeResume
	ChangeReset
	ChangeClose
)

// String returns the change name used in metrics labels and events.
func (k ChangeKind) String() string {
	switch k {
	case ChangeTick:
		return "tick"
	case ChangePause:
		return "pause"
	case ChangeResume:
		return "resume"
	case ChangeReset:
		return "reset"
	case ChangeClose:
		return "close"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every state mutation.
type Change struct {
	Kind  ChangeKind
	State model.PlaybackState
}

// CompletedTrip reports whether this change is the tick that reached the
// end of the route.
func (c Change) CompletedTrip() bool {
	return c.Kind == ChangeTick && c.State.IsComplete
}

// Controller is the playback state machine for one mounted component.
//
// All events (ticks, user actions, snapshots) are serialised by mu. At most
// one tick is armed at a time; every armed tick carries the generation it
// was armed in, and a tick whose generation is stale (cancelled by pause,
// reset or Close) is ignored when it fires.
type Controller struct {
	mu sync.Mutex

	route         model.Route
	sched         timectrl.Scheduler
	period        time.Duration
	supportsPause bool
	log           logging.Logger

	index int
	ticks int
	phase model.Phase

	pending string
	gen     uint64
	closed  bool

	// notifyMu keeps subscriber delivery in mutation order.
	notifyMu sync.Mutex
	subs     map[int]func(Change)
	nextSub  int
	// final is the ChangeClose, set once subscribers have been detached.
	final *Change
}

// ControllerOption customises Controller construction.
type ControllerOption func(*Controller)

// WithTickPeriod sets the tick interval. Non-positive values keep the
// default.
func WithTickPeriod(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.period = d
		}
	}
}

// WithPauseSupport enables or disables TogglePause.
func WithPauseSupport(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.supportsPause = enabled
	}
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s timectrl.Scheduler) ControllerOption {
	return func(c *Controller) {
		if s != nil {
			c.sched = s
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// NewController builds a controller at index 0. Routes with fewer than two
// points start complete since there is nowhere to move. No tick is armed
// until Start.
func NewController(route model.Route, opts ...ControllerOption) *Controller {
	c := &Controller{
		route:         route,
		period:        DefaultTickPeriod,
		supportsPause: true,
		log:           logging.Noop(),
		subs:          make(map[int]func(Change)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.sched == nil {
		c.sched = timectrl.NewWallScheduler()
	}
	c.phase = model.PhaseRunning
	if route.LastIndex() <= 0 {
		c.phase = model.PhaseComplete
	}
	return c
}

// Route returns the route the controller walks.
func (c *Controller) Route() model.Route { return c.route }

// TickPeriod returns the configured tick interval.
func (c *Controller) TickPeriod() time.Duration { return c.period }

// SupportsPause reports whether TogglePause is enabled.
func (c *Controller) SupportsPause() bool { return c.supportsPause }

// Start arms the first tick when running. Calling it again is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	if c.phase == model.PhaseRunning && c.pending == "" {
		c.armLocked()
	}
	return nil
}

// State returns a snapshot of the playback state.
func (c *Controller) State() model.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// TogglePause switches between running and paused. It is a no-op once the
// trip is complete.
func (c *Controller) TogglePause(ctx context.Context) (model.PlaybackState, error) {
	c.mu.Lock()
	if c.closed {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrControllerClosed
	}
	if !c.supportsPause {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrPauseUnsupported
	}

	var kind ChangeKind
	switch c.phase {
	case model.PhaseRunning:
		c.cancelLocked()
		c.phase = model.PhasePaused
		kind = ChangePause
	case model.PhasePaused:
		c.phase = model.PhaseRunning
		c.armLocked()
		kind = ChangeResume
	default:
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, nil
	}

	st := c.snapshotLocked()
	c.log.Debug(ctx, "playback toggled",
		logging.String("change", kind.String()),
		logging.Int("index", st.CurrentIndex),
	)
	c.publishAndUnlock(Change{Kind: kind, State: st})
	return st, nil
}

// Reset returns to index 0 and resumes running from any state. The pending
// tick is cancelled before the new one is armed.
func (c *Controller) Reset(ctx context.Context) (model.PlaybackState, error) {
	c.mu.Lock()
	if c.closed {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrControllerClosed
	}

	c.cancelLocked()
	c.index = 0
	c.ticks = 0
	if c.route.LastIndex() <= 0 {
		c.phase = model.PhaseComplete
	} else {
		c.phase = model.PhaseRunning
		c.armLocked()
	}

	st := c.snapshotLocked()
	c.log.Debug(ctx, "playback reset", logging.String("phase", st.Phase.String()))
	c.publishAndUnlock(Change{Kind: ChangeReset, State: st})
	return st, nil
}

// Close cancels the pending tick and detaches all subscribers after
// delivering a final ChangeClose. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelLocked()
	c.closed = true
	st := c.snapshotLocked()

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	ch := Change{Kind: ChangeClose, State: st}
	for _, fn := range c.subs {
		if fn != nil {
			fn(ch)
		}
	}
	c.subs = make(map[int]func(Change))
	c.final = &ch
}

// Subscribe registers fn for every subsequent change and returns a function
// that removes it. fn runs on the goroutine that caused the change and must
// not call TogglePause, Reset or Close. Subscribing to a closed controller
// delivers the final ChangeClose to fn before Subscribe returns.
func (c *Controller) Subscribe(fn func(Change)) (unsubscribe func()) {
	c.notifyMu.Lock()
	if final := c.final; final != nil {
		c.notifyMu.Unlock()
		if fn != nil {
			fn(*final)
		}
		return func() {}
	}
	defer c.notifyMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.notifyMu.Lock()
		delete(c.subs, id)
		c.notifyMu.Unlock()
	}
}

// onTick is the scheduled callback. gen identifies the arming it belongs to.
func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.pending == "" || c.phase != model.PhaseRunning {
		c.mu.Unlock()
		return
	}
	c.pending = ""

	last := c.route.LastIndex()
	if c.index < last {
		c.index++
		c.ticks++
	}
	if c.index >= last {
		c.phase = model.PhaseComplete
	} else {
		c.armLocked()
	}

	st := c.snapshotLocked()
	if st.IsComplete {
		c.log.Info(context.Background(), "trip complete",
			logging.String("route_id", c.route.ID),
			logging.Int("ticks", st.Ticks),
		)
	}
	c.publishAndUnlock(Change{Kind: ChangeTick, State: st})
}

// armLocked cancels any outstanding tick and schedules the next one.
// Caller must hold c.mu.
func (c *Controller) armLocked() {
	c.cancelLocked()
	gen := c.gen
	c.pending = c.sched.Schedule(c.sched.Now().Add(c.period), func() {
		c.onTick(gen)
	})
}

// cancelLocked cancels the outstanding tick, if any, and invalidates any
// callback already in flight. Caller must hold c.mu.
func (c *Controller) cancelLocked() {
	if c.pending != "" {
		c.sched.Cancel(c.pending)
		c.pending = ""
	}
	c.gen++
}

func (c *Controller) snapshotLocked() model.PlaybackState {
	return model.PlaybackState{
		CurrentIndex: c.index,
		Phase:        c.phase,
		IsMoving:     c.phase == model.PhaseRunning,
		IsPaused:     c.phase == model.PhasePaused,
		IsComplete:   c.phase == model.PhaseComplete,
		Ticks:        c.ticks,
	}
}

// publishAndUnlock hands ch to subscribers in mutation order. It takes
// notifyMu before releasing mu so a later mutation cannot overtake it.
func (c *Controller) publishAndUnlock(ch Change) {
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	for _, fn := range c.subs {
		if fn != nil {
			fn(ch)
		}
	}
}
