package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/route-playback/internal/config"
	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/internal/observability"
	"github.com/signalsfoundry/route-playback/kb"
	"github.com/signalsfoundry/route-playback/model"
)

func TestPlaybackServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Default()
	cfg.Server.MetricsAddr = ""
	cfg.Routes = []config.RouteConfig{{
		ID: "e2e",
		Points: []config.PointConfig{
			{Latitude: 28.85, Longitude: 77.10},
			{Latitude: 28.86, Longitude: 77.11},
			{Latitude: 28.87, Longitude: 77.12},
		},
	}}

	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis)
	}()

	base := "http://" + lis.Addr().String()
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if health["status"] != "ok" || health["routes"] != float64(1) {
		t.Fatalf("health = %v", health)
	}

	resp, err = http.Post(base+"/api/v1/sessions", "application/json", strings.NewReader(`{"route_id":"e2e"}`))
	if err != nil {
		t.Fatalf("POST /api/v1/sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestLoadRoutesKeepsDegradedEntries(t *testing.T) {
	cfg := config.Default()
	cfg.Routes = []config.RouteConfig{
		{ID: "missing", Path: filepath.Join(t.TempDir(), "nope.json")},
		{ID: "dot", Points: []config.PointConfig{{Latitude: 1, Longitude: 2}}},
		{ID: "ok", Points: []config.PointConfig{{Latitude: 1, Longitude: 2}, {Latitude: 1.1, Longitude: 2.1}}},
		{ID: "ok", Points: []config.PointConfig{{Latitude: 3, Longitude: 4}, {Latitude: 3.1, Longitude: 4.1}}},
	}
	routes := kb.NewKnowledgeBase()

	if got := loadRoutes(context.Background(), cfg, routes, logging.Noop()); got != 3 {
		t.Fatalf("loadRoutes added %d routes, want 3", got)
	}

	missing, err := routes.GetRoute("missing")
	if err != nil {
		t.Fatalf("GetRoute(missing): %v", err)
	}
	if !missing.Degraded || missing.LoadError == "" || missing.Route.Len() != 0 {
		t.Fatalf("missing entry = %+v", missing)
	}

	dot, _ := routes.GetRoute("dot")
	if !dot.Degraded || dot.Route.Len() != 1 || dot.Source != "inline" {
		t.Fatalf("dot entry = %+v", dot)
	}

	ok, _ := routes.GetRoute("ok")
	if ok.Degraded {
		t.Fatalf("ok entry degraded: %+v", ok)
	}
	if first, _ := ok.Route.Start(); first.Latitude != 1 {
		t.Fatalf("duplicate route replaced the first one: %+v", first)
	}
}

func TestTrackRoutesFollowsCatalogue(t *testing.T) {
	collector, err := observability.NewPlaybackCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}
	routes := kb.NewKnowledgeBase()
	unsubscribe := trackRoutes(routes, collector)

	cfg := config.Default()
	cfg.Routes = []config.RouteConfig{
		{ID: "a", Points: []config.PointConfig{{Latitude: 1, Longitude: 2}, {Latitude: 1.1, Longitude: 2.1}}},
		{ID: "b", Points: []config.PointConfig{{Latitude: 1, Longitude: 2}}},
	}
	loadRoutes(context.Background(), cfg, routes, logging.Noop())
	if got := testutil.ToFloat64(collector.RoutesLoaded); got != 2 {
		t.Fatalf("routes gauge after load = %v, want 2", got)
	}

	c := kb.RouteEntry{Route: model.NewRoute("c", []model.Coordinate{{Latitude: 3, Longitude: 4}, {Latitude: 3.1, Longitude: 4.1}})}
	if err := routes.AddRoute(c); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := routes.AddRoute(c); err == nil {
		t.Fatalf("duplicate AddRoute succeeded")
	}
	if err := routes.RemoveRoute("a"); err != nil {
		t.Fatalf("RemoveRoute: %v", err)
	}
	if got := testutil.ToFloat64(collector.RoutesLoaded); got != float64(routes.Len()) || got != 2 {
		t.Fatalf("routes gauge = %v, catalogue holds %d", got, routes.Len())
	}

	unsubscribe()
	if err := routes.RemoveRoute("b"); err != nil {
		t.Fatalf("RemoveRoute: %v", err)
	}
	if got := testutil.ToFloat64(collector.RoutesLoaded); got != 2 {
		t.Fatalf("gauge moved after unsubscribe: %v", got)
	}
}

func TestNewPublisherWithoutBrokers(t *testing.T) {
	pub, err := newPublisher(config.Default(), logging.Noop())
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
