package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"track-svr/internal/config"
	"track-svr/internal/dispatcher"
	"track-svr/internal/filter"
	"track-svr/internal/geofence"
	"track-svr/internal/grpcclient"
	"track-svr/internal/link"
	"track-svr/internal/observability"
	"track-svr/internal/pipeline"
	"track-svr/internal/protocol"
	"track-svr/internal/protocol/all"
	"track-svr/internal/registry"
	"track-svr/internal/server"
	"track-svr/internal/sink/mongosink"
	"track-svr/internal/sink/natssink"
	"track-svr/internal/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML catalog (listeners, devices, geofences, filter)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	logger.Info("Starting track-svr...", "listeners", len(cfg.File.Listeners), "config", cfg.ConfigFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("track-svr stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var regOpts []registry.Option
	regOpts = append(regOpts, registry.WithDefaults(cfg.File.Defaults))

	// Inicializar Redis antes del server
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		regOpts = append(regOpts, registry.WithStore(rdb))
	}

	devices := registry.New(logger, regOpts...)
	for _, d := range cfg.File.RegistryDevices() {
		if err := devices.Register(d); err != nil {
			return fmt.Errorf("register device %d: %w", d.ID, err)
		}
	}
	if err := devices.Warm(ctx); err != nil {
		logger.Warn("warm start incomplete", "error", err)
	}

	calendars, err := cfg.File.CalendarStore()
	if err != nil {
		return err
	}
	geofences, err := cfg.File.GeofenceStore(devices)
	if err != nil {
		return err
	}
	geoEngine := geofence.NewEngine(geofences, geofence.CalendarFunc(func(id int64) (geofence.Calendar, bool) {
		c, ok := calendars.Get(id)
		if !ok {
			return nil, false
		}
		return c, true
	}), devices, logger)
	filterEngine := filter.NewEngine(cfg.File.Filter.Engine(), devices, filter.WithLogger(logger))

	g, ctx := errgroup.WithContext(ctx)

	sinks, observer, closeSinks, err := buildSinks(ctx, g, cfg, devices, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	processor := pipeline.NewProcessor(devices, filterEngine, geoEngine, pipeline.NewMulti(logger, sinks...), logger)

	protocols, err := all.Registry(all.Options{TranssyncDistanceFilter: cfg.File.Transsync.DistanceFilter})
	if err != nil {
		return err
	}
	env := protocol.Env{Identity: devices, Devices: devices, Sessions: observer, Logger: logger}
	srvOpts := server.Options{
		IdleTimeout: cfg.File.Server.IdleTimeoutDuration(),
		MaxBuffer:   cfg.File.Server.MaxBuffer,
	}
	for _, l := range cfg.File.Listeners {
		p, err := protocols.Lookup(l.Protocol)
		if err != nil {
			return fmt.Errorf("listener %s/%d: %w", l.Transport, l.Port, err)
		}
		if !p.Supports(l.Transport) {
			return fmt.Errorf("listener %s/%d: %s does not support %s", l.Transport, l.Port, p.Name, l.Transport)
		}
		d := dispatcher.New(p, processor, dispatcher.Options{RawLogDir: cfg.RawLogDir}, logger)
		addr := fmt.Sprintf(":%d", l.Port)
		if l.Transport == protocol.UDP {
			srv := server.NewUDP(addr, d, env, logger)
			g.Go(func() error { return srv.Serve(ctx) })
			continue
		}
		srv := server.NewTCP(addr, d, env, srvOpts, logger)
		g.Go(func() error { return srv.Serve(ctx) })
	}

	g.Go(func() error { return observability.StartMetricsServer(ctx, cfg.MetricsPort) })

	return g.Wait()
}

// buildSinks connects every configured downstream. The NDJSON link also
// observes device sessions.
func buildSinks(ctx context.Context, g *errgroup.Group, cfg config.Config, devices *registry.Registry, logger *slog.Logger) ([]pipeline.NamedSink, protocol.SessionObserver, func(), error) {
	var (
		sinks    []pipeline.NamedSink
		observer protocol.SessionObserver
		closers  []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.ProxyAddr != "" {
		lc := link.New(cfg.ProxyAddr, devices, logger)
		g.Go(func() error { return lc.Run(ctx) })
		sinks = append(sinks, pipeline.NamedSink{Name: "link", Sink: lc})
		observer = lc
	}
	if cfg.GRPCServer != "" {
		gc, err := grpcclient.NewGRPCClient(cfg.GRPCServer, devices, logger)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("grpc: %w", err)
		}
		closers = append(closers, func() { _ = gc.Close() })
		sinks = append(sinks, pipeline.NamedSink{Name: "grpc", Sink: gc})
	}
	if cfg.NATSURL != "" {
		nc, err := natssink.Connect(cfg.NATSURL, "track-svr", logger)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("nats: %w", err)
		}
		closers = append(closers, func() { _ = nc.Drain() })
		sinks = append(sinks, pipeline.NamedSink{Name: "nats", Sink: natssink.New(nc, devices)})
	}
	if cfg.MongoURI != "" {
		db, err := mongosink.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("mongodb: %w", err)
		}
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(shutdownCtx)
		})
		ms := mongosink.New(db)
		if err := ms.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongodb indexes", "error", err)
		}
		sinks = append(sinks, pipeline.NamedSink{Name: "mongodb", Sink: ms})
	}
	if len(sinks) == 0 {
		logger.Warn("no sinks configured, accepted positions are only kept as last position")
	}
	return sinks, observer, closeAll, nil
}
