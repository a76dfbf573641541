package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-inference/internal/api/http"
	"github.com/i474232898/weather-inference/internal/config"
	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/forecast/operators"
	"github.com/i474232898/weather-inference/internal/gridio"
	"github.com/i474232898/weather-inference/internal/logging"
	"github.com/i474232898/weather-inference/internal/notify"
	"github.com/i474232898/weather-inference/internal/scheduler"
	"github.com/i474232898/weather-inference/internal/store"
)

const appName = "weather-inference"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg := logging.New(cfg.AppEnv, cfg.LogLevel, appName)

	grid, err := forecast.NewGrid(cfg.GridResolution)
	if err != nil {
		lg.Error("invalid grid", "error", err)
		os.Exit(1)
	}
	codec := forecast.NewCodec(grid, forecast.DefaultLayout())

	// Shared HTTP client for operator calls; one step on the full grid can
	// take minutes on a busy inference server.
	httpClient := &http.Client{Timeout: cfg.OperatorTimeout}

	registry, err := operators.NewRegistry(operators.Options{
		Backend: cfg.OperatorBackend,
		BaseURL: cfg.OperatorURL,
		Steps:   cfg.OperatorSteps,
		Client:  httpClient,
		Backoff: operators.BackoffConfig{
			MaxRetries:      cfg.OperatorRetries,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
		},
	}, codec)
	if err != nil {
		lg.Error("failed to build operator registry", "error", err)
		os.Exit(1)
	}

	var runs forecast.RunStore
	if cfg.SQLitePath != "" {
		db, err := store.OpenSQLite(cfg.SQLitePath, lg)
		if err != nil {
			lg.Error("failed to open run ledger", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		runs = db
	} else {
		runs = store.NewMemoryStore(500)
	}

	var notifier forecast.Notifier
	if cfg.MQTTBroker != "" {
		pub := notify.NewPublisher(notify.Config{
			Broker:      cfg.MQTTBroker,
			Port:        cfg.MQTTPort,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, lg)
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pub.Connect(connectCtx); err != nil {
			// Events are best effort; runs proceed without a broker.
			lg.Warn("mqtt broker unavailable", "broker", cfg.MQTTBroker, "error", err)
		}
		cancel()
		defer pub.Disconnect()
		notifier = pub
	}

	service := forecast.NewService(forecast.ServiceConfig{
		Codec:           codec,
		Registry:        registry,
		Policy:          cfg.SchedulePolicy,
		Source:          gridio.NewDirSource(cfg.InputDir),
		Archive:         gridio.NewArchive(cfg.OutputDir),
		Store:           runs,
		Notifier:        notifier,
		PartialAssembly: cfg.PartialAssembly,
		StepTimeout:     cfg.StepTimeout,
		Logger:          lg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRuns := context.WithCancel(context.Background())
	dispatcher := forecast.NewDispatcher(runCtx, service, cfg.MaxConcurrentRuns, lg)

	if cfg.CycleEnabled {
		sched := scheduler.New(scheduler.Config{
			Interval: cfg.CycleInterval,
			Lag:      cfg.CycleLag,
			Horizon:  cfg.CycleHorizon,
			Policy:   cfg.SchedulePolicy,
		}, dispatcher, lg)
		if err := sched.Start(); err != nil {
			lg.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	}

	app := httpapi.NewApp(appName)
	app.Use(logger.New())
	app.Use(recover.New())
	httpapi.RegisterRoutes(app, service, dispatcher)

	go func() {
		lg.Info("listening", "port", cfg.Port, "operators", registry.Increments(), "grid", grid.UpperShape())
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Error("fiber server stopped", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Error("error during shutdown", "error", err)
	}

	// Runs stop before their next step; completed steps stay on disk.
	cancelRuns()
	dispatcher.Wait()
}
