package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pulsecam/pulsecam-agent/internal/api"
	"github.com/pulsecam/pulsecam-agent/internal/config"
	"github.com/pulsecam/pulsecam-agent/internal/db"
	"github.com/pulsecam/pulsecam-agent/internal/logging"
	"github.com/pulsecam/pulsecam-agent/internal/measurement"
	"github.com/pulsecam/pulsecam-agent/internal/metrics"
	"github.com/pulsecam/pulsecam-agent/internal/presage"
	"github.com/pulsecam/pulsecam-agent/internal/ui"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent with its local API, job runner and tray",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting pulsecam agent", "version", config.Version, "data_dir", cfg.DataDir())

	if cfg.APIKey() == "" {
		logger.Warn("analysis API key not set, measurements will fail", "env", config.EnvAPIKey)
	}

	database, err := db.New(cfg.DBPath(), logging.WithComponent(logger, "db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := measurement.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(parent, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	client := newPresageClient(cfg, logger, presage.WithObserver(collector))
	svc := measurement.NewService(measurement.ServiceConfig{
		Analyzer: client,
		PollOptions: presage.PollOptions{
			Interval: cfg.PollInterval(),
			Timeout:  cfg.PollTimeout(),
		},
		Observer: collector,
		Logger:   logging.WithComponent(logger, "measurement"),
	})
	runner := measurement.NewRunner(svc, repo, cfg.SpoolDir(), logging.WithComponent(logger, "runner"))

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Service:       svc,
		Jobs:          runner,
		Repository:    repo,
		Gatherer:      registry,
		MaxVideoBytes: cfg.MaxVideoBytes(),
		Logger:        logging.WithComponent(logger, "api"),
		StartTime:     startTime,
		Version:       config.Version,
	})

	fmt.Println()
	fmt.Println(green("PulseCam agent"), gray("v"+config.Version))
	fmt.Println("  API URL:    ", cyan("http://"+apiServer.Addr()))
	fmt.Println("  Auth token: ", authToken)
	fmt.Println("  Upload cap: ", humanize.IBytes(uint64(cfg.MaxVideoBytes())))
	fmt.Println()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})
	g.Go(func() error {
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Service: svc,
			Runner:  runner,
			Logger:  logging.WithComponent(logger, "tray"),
			OnQuit:  stop,
		})
		go func() {
			<-gctx.Done()
			tray.Quit()
		}()
		tray.Run()
		stop()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(ctx context.Context, repo measurement.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
