package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"assetslicer/internal/bridge"
	"assetslicer/internal/infra"
	"assetslicer/internal/render"
)

// The worker is the standalone rendering context. It subscribes to the
// slice-request subject and publishes slice-responses, mirroring the api's
// subject pair.
func main() {
	_ = godotenv.Load(".env", ".env.local")

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := infra.NewNATSConn(cfg, "assetslicer-worker", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: nats connection failed")
	}
	defer conn.Drain()

	transport := bridge.NewNATSTransport(conn, cfg.NATSResponseSubject, cfg.NATSRequestSubject)
	renderer := render.NewRenderer(render.Options{
		Concurrency: cfg.RenderConcurrency,
		MaxPixels:   cfg.RenderMaxPixels,
		Logger:      &logger,
	})
	worker := render.NewWorker(transport, renderer, render.WorkerOptions{
		MaxInFlight: cfg.WorkerInFlight,
		Logger:      &logger,
	})

	logger.Info().
		Str("requests", cfg.NATSRequestSubject).
		Str("responses", cfg.NATSResponseSubject).
		Int("max_in_flight", cfg.WorkerInFlight).
		Msg("worker: started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
