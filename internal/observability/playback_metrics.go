package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// PlaybackCollector exposes playback-specific Prometheus metrics.
type PlaybackCollector struct {
	gatherer prometheus.Gatherer

	Ticks          prometheus.Counter
	Transitions    *prometheus.CounterVec
	Completions    prometheus.Counter
	SessionsActive prometheus.Gauge
	RoutesLoaded   prometheus.Gauge
}

// NewPlaybackCollector registers playback metrics against the provided
// registerer, defaulting to the global registry when nil.
func NewPlaybackCollector(reg prometheus.Registerer) (*PlaybackCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_ticks_total",
		Help: "Number of ticks that advanced a vehicle along its route.",
	}), "playback_ticks_total")
	if err != nil {
		return nil, err
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_transitions_total",
		Help: "Playback state transitions, labeled by kind (pause, resume, reset, close).",
	}, []string{"kind"})
	transitions, err = registerCounterVec(reg, transitions, "playback_transitions_total")
	if err != nil {
		return nil, err
	}

	completions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_trip_completions_total",
		Help: "Number of trips that reached the end of their route.",
	}), "playback_trip_completions_total")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_sessions_active",
		Help: "Number of mounted playback sessions.",
	}), "playback_sessions_active")
	if err != nil {
		return nil, err
	}

	routes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_routes_loaded",
		Help: "Number of routes in the catalogue, degraded ones included.",
	}), "playback_routes_loaded")
	if err != nil {
		return nil, err
	}

	return &PlaybackCollector{
		gatherer:       gatherer,
		Ticks:          ticks,
		Transitions:    transitions,
		Completions:    completions,
		SessionsActive: sessions,
		RoutesLoaded:   routes,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PlaybackCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a /metrics handler over the collector's gatherer.
func (c *PlaybackCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObserveTick counts one advance; completed marks the tick that ended a trip.
func (c *PlaybackCollector) ObserveTick(completed bool) {
	if c == nil {
		return
	}
	if c.Ticks != nil {
		c.Ticks.Inc()
	}
	if completed && c.Completions != nil {
		c.Completions.Inc()
	}
}

// ObserveTransition counts a non-tick state change.
func (c *PlaybackCollector) ObserveTransition(kind string) {
	if c == nil || c.Transitions == nil {
		return
	}
	c.Transitions.WithLabelValues(kind).Inc()
}

// SetActiveSessions updates the session gauge.
func (c *PlaybackCollector) SetActiveSessions(n int) {
	if c == nil || c.SessionsActive == nil {
		return
	}
	c.SessionsActive.Set(float64(n))
}

// AddRoutesLoaded moves the route catalogue gauge by delta.
func (c *PlaybackCollector) AddRoutesLoaded(delta int) {
	if c == nil || c.RoutesLoaded == nil {
		return
	}
	c.RoutesLoaded.Add(float64(delta))
}
