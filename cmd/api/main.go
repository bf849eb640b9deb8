package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"assetslicer/internal/assetsource"
	"assetslicer/internal/bridge"
	"assetslicer/internal/http/handlers"
	httpapi "assetslicer/internal/http/httpapi"
	"assetslicer/internal/infra"
	"assetslicer/internal/pipeline"
	"assetslicer/internal/render"
	"assetslicer/internal/scene"
	"assetslicer/internal/sqlinline"
	"assetslicer/internal/storage"
)

func main() {
	_ = godotenv.Load(".env", ".env.local")

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	tree := scene.NewTree("Page 1", fileStore)
	renderer := render.NewRenderer(render.Options{
		Concurrency: cfg.RenderConcurrency,
		MaxPixels:   cfg.RenderMaxPixels,
		Logger:      &logger,
	})
	g, gctx := errgroup.WithContext(ctx)

	// Host transport: NATS when configured, otherwise an in-process pipe
	// served by an embedded render worker.
	var transport bridge.Transport
	if cfg.NATSURL != "" {
		conn, err := infra.NewNATSConn(cfg, "assetslicer-api", logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: nats connection failed")
		}
		defer conn.Drain()
		transport = bridge.NewNATSTransport(conn, cfg.NATSRequestSubject, cfg.NATSResponseSubject)
		logger.Info().Str("subject", cfg.NATSRequestSubject).Msg("api: rendering over nats")
	} else {
		pipe := bridge.NewPipe(cfg.WorkerInFlight * 4)
		defer pipe.Close()
		transport = pipe.Host
		worker := render.NewWorker(pipe.Renderer, renderer, render.WorkerOptions{
			MaxInFlight: cfg.WorkerInFlight,
			Logger:      &logger,
		})
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		logger.Info().Msg("api: rendering in process")
	}

	b, err := bridge.New(transport, bridge.Options{
		Timeout:      cfg.BridgeTimeout,
		CleanupAfter: cfg.BridgeCleanup,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bridge setup failed")
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := &handlers.App{
		Config: cfg,
		Logger: logger,
		Pipeline: pipeline.New(tree, b, pipeline.Options{
			MaxDimension:    cfg.MaxDimension,
			MaxTiles:        cfg.MaxTiles,
			SlicingDisabled: !cfg.SlicingEnabled,
			Logger:          &logger,
			Metrics:         pipeline.NewMetrics(reg),
		}),
		Scene:    tree,
		Renderer: renderer,
		Gatherer: reg,
	}

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to connect database")
		}
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger)
		if err := infra.EnsureSchema(ctx, runner, sqlinline.Schema); err != nil {
			logger.Fatal().Err(err).Msg("api: schema setup failed")
		}
		app.SQL = runner
		app.Assets = assetsource.NewPostgresSource(runner, fileStore)
		app.Uploads = fileStore
	} else {
		logger.Warn().Msg("api: DATABASE_URL not set, placement history and stored assets disabled")
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
		return
	}
	logger.Info().Msg("api: stopped")
}
