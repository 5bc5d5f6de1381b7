package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/internal/config"
	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/model"
	"github.com/signalsfoundry/route-playback/timectrl"
)

// demoRoute is played when no -route file is given.
var demoRoute = core.StaticSource{
	{Latitude: 28.85, Longitude: 77.10},
	{Latitude: 28.86, Longitude: 77.11},
	{Latitude: 28.87, Longitude: 77.12},
}

type options struct {
	RoutePath string
	Format    string
	Variant   string
	Tick      time.Duration
	// PauseAt pauses once the vehicle reaches this index; 0 disables it.
	PauseAt  int
	PauseFor time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.RoutePath, "route", "", "JSON or GeoJSON route file; empty plays a built-in three point route")
	flag.StringVar(&opts.Format, "format", "", "route file format (json or geojson); inferred from the extension when empty")
	flag.StringVar(&opts.Variant, "variant", "pausable", "presentation variant (classic, pausable, info-panel, tooltip)")
	flag.DurationVar(&opts.Tick, "tick", 0, "tick period override; 0 keeps the variant's period")
	flag.IntVar(&opts.PauseAt, "pause-at", 0, "pause when the vehicle reaches this index")
	flag.DurationVar(&opts.PauseFor, "pause-for", time.Second, "how long to stay paused when -pause-at is set")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	final, err := simulate(ctx, os.Stdout, opts, timectrl.NewWallScheduler(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Simulation finished: index=%d phase=%s ticks=%d\n", final.CurrentIndex, final.Phase, final.Ticks)
}

// simulate plays one route on a text canvas until the trip completes or ctx
// is cancelled, and returns the final state.
func simulate(ctx context.Context, w io.Writer, opts options, sched timectrl.Scheduler, log logging.Logger) (model.PlaybackState, error) {
	cfg := config.Default()
	p, err := cfg.Presentation(opts.Variant)
	if err != nil {
		return model.PlaybackState{}, err
	}
	if opts.Tick > 0 {
		p.TickPeriod = opts.Tick
	}

	route, err := core.NewRouteStore("sim", routeSource(opts)).LoadRoute()
	if err != nil && !errors.Is(err, core.ErrRouteTooShort) {
		return model.PlaybackState{}, err
	}

	w = &lockedWriter{w: w}
	fmt.Fprintf(w, "Playing route %q: %d points, variant=%s, tick=%s\n", route.ID, route.Len(), opts.Variant, p.TickPeriod)

	canvas := core.NewTextCanvas(w)
	ctrl := core.NewController(route, append(p.ControllerOptions(),
		core.WithScheduler(sched),
		core.WithLogger(log),
	)...)
	defer ctrl.Close()

	changes := make(chan core.Change, route.Len()+4)
	unsubscribe := ctrl.Subscribe(func(ch core.Change) {
		if err := core.Draw(core.Render(route, ch.State, p), canvas); err != nil {
			log.Warn(ctx, "draw failed", logging.Err(err))
		}
		select {
		case changes <- ch:
		default:
		}
	})
	defer unsubscribe()

	state := ctrl.State()
	if err := core.Draw(core.Render(route, state, p), canvas); err != nil {
		return state, err
	}
	if state.IsComplete {
		return state, nil
	}
	if err := ctrl.Start(); err != nil {
		return state, err
	}

	paused := false
	for {
		select {
		case <-ctx.Done():
			return ctrl.State(), nil
		case ch := <-changes:
			if ch.State.IsComplete {
				return ch.State, nil
			}
			if opts.PauseAt <= 0 || paused || ch.Kind != core.ChangeTick || ch.State.CurrentIndex != opts.PauseAt {
				continue
			}
			paused = true
			if _, err := ctrl.TogglePause(ctx); err != nil {
				fmt.Fprintf(w, "pause skipped: %v\n", err)
				continue
			}
			select {
			case <-ctx.Done():
				return ctrl.State(), nil
			case <-time.After(opts.PauseFor):
			}
			if _, err := ctrl.TogglePause(ctx); err != nil {
				return ctrl.State(), err
			}
		}
	}
}

func routeSource(opts options) core.CoordinateSource {
	if opts.RoutePath == "" {
		return demoRoute
	}
	format := opts.Format
	if format == "" && strings.EqualFold(filepath.Ext(opts.RoutePath), ".geojson") {
		format = config.FormatGeoJSON
	}
	if format == config.FormatGeoJSON {
		return core.GeoJSONSource{Path: opts.RoutePath}
	}
	return core.JSONSource{Path: opts.RoutePath}
}

// lockedWriter serialises frames drawn from timer callbacks with the
// messages written by the driving loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
