package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/internal/config"
	"github.com/signalsfoundry/route-playback/internal/events"
	"github.com/signalsfoundry/route-playback/internal/httpapi"
	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/internal/observability"
	"github.com/signalsfoundry/route-playback/internal/session"
	"github.com/signalsfoundry/route-playback/kb"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML configuration file")
	envPath := flag.String("env", ".env", "Optional .env file loaded before the configuration")
	flag.Parse()

	bootLog := logging.NewFromEnv()
	ctx := context.Background()

	if err := config.LoadDotEnv(*envPath); err != nil {
		bootLog.Error(ctx, "failed to load env file", logging.String("path", *envPath), logging.Err(err))
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Error(ctx, "failed to load configuration", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg.LoggerConfig())

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.Addr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "playback server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the playback API on lis until ctx is cancelled, then unmounts
// every session and drains the listeners.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	httpMetrics, err := observability.NewHTTPCollector(reg)
	if err != nil {
		return err
	}
	playbackMetrics, err := observability.NewPlaybackCollector(reg)
	if err != nil {
		return err
	}

	routes := kb.NewKnowledgeBase()
	defer trackRoutes(routes, playbackMetrics)()
	loadRoutes(ctx, cfg, routes, log)

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn(context.Background(), "closing event publisher", logging.Err(err))
		}
	}()

	sessions := session.NewRegistry(routes, cfg,
		session.WithRecorder(playbackMetrics),
		session.WithPublisher(publisher),
		session.WithLogger(log),
	)

	api, err := httpapi.NewServer(httpapi.Config{
		Routes:   routes,
		Sessions: sessions,
		Variants: cfg.VariantNames(),
		Log:      log,
		Metrics:  httpMetrics,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := serveMetrics(cfg.Server.MetricsAddr, playbackMetrics, log)

	errCh := make(chan error, 1)
	log.Info(ctx, "starting playback HTTP server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down playback server")
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Unmounting first ends open SSE streams so Shutdown does not wait on them.
	sessions.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP shutdown", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return serveErr
}

func serveMetrics(addr string, collector *observability.PlaybackCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// trackRoutes keeps the routes gauge in step with the catalogue as routes
// are loaded at startup and added or removed over the API.
func trackRoutes(routes *kb.KnowledgeBase, collector *observability.PlaybackCollector) (unsubscribe func()) {
	return routes.Subscribe(func(ev kb.Event) {
		switch ev.Type {
		case kb.EventRouteAdded:
			collector.AddRoutesLoaded(1)
		case kb.EventRouteRemoved:
			collector.AddRoutesLoaded(-1)
		}
	})
}

// loadRoutes fills the catalogue from the configured routes. A route that
// fails to load is still added, flagged degraded, so clients get the
// degraded scene rather than a 404.
func loadRoutes(ctx context.Context, cfg *config.Config, routes *kb.KnowledgeBase, log logging.Logger) int {
	added := 0
	for _, rc := range cfg.Routes {
		source := "inline"
		if len(rc.Points) == 0 {
			source = rc.Path
		}
		route, err := core.NewRouteStore(rc.ID, cfg.Source(rc)).LoadRoute()
		entry := kb.RouteEntry{Route: route, Source: source}
		if err != nil {
			entry.Degraded = true
			entry.LoadError = err.Error()
			log.Warn(ctx, "route loaded degraded", logging.String("route_id", rc.ID), logging.Err(err))
		}
		if err := routes.AddRoute(entry); err != nil {
			log.Warn(ctx, "skipping route", logging.String("route_id", rc.ID), logging.Err(err))
			continue
		}
		added++
	}

	log.Info(ctx, "loaded routes", logging.Int("count", added))
	return added
}

func newPublisher(cfg *config.Config, log logging.Logger) (events.Publisher, error) {
	if !cfg.Kafka.Enabled() {
		return events.NoopPublisher{}, nil
	}
	pub, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Info(context.Background(), "publishing trip events to kafka",
		logging.String("topic", cfg.Kafka.Topic),
		logging.Int("brokers", len(cfg.Kafka.Brokers)),
	)
	return pub, nil
}
