package main

import (
	"context"
	"fmt"
	"log"
	"os"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/lumozai/layout-aware-rag-demo/internal/app"
	"github.com/lumozai/layout-aware-rag-demo/internal/config"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/server"
	temporalmod "github.com/lumozai/layout-aware-rag-demo/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	obsHooks, err := app.SetupObservability(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("services: %v", err)
	}

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue, &temporalmod.Activities{Processor: a.Ingest})
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	a.Health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	go func() {
		if err := a.Health.ListenAndServe(cfg.Server.HealthAddr); err != nil {
			logger.Error("health server failed", "error", err)
		}
	}()

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{Logger: logger})
	shutdown.Register(server.HTTPServerShutdownHook("health", func(context.Context) error {
		a.Health.Shutdown()
		return nil
	}))
	shutdown.Register(server.TemporalWorkerShutdownHook(w.Stop))
	for _, hook := range append(a.ShutdownHooks(), obsHooks...) {
		shutdown.Register(hook)
	}
	shutdown.Start()

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)
	shutdown.Wait()
	fmt.Println("Worker stopped")
}
