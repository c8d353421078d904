package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"imageforge/internal/api"
	"imageforge/internal/artifact"
	"imageforge/internal/comfyui"
	"imageforge/internal/config"
	"imageforge/internal/credits"
	"imageforge/internal/orchestrator"
	"imageforge/internal/poller"
	"imageforge/internal/processor"
	"imageforge/internal/progress"
	"imageforge/internal/workflow"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "imageforge",
		Short: "AI image processing backend",
		Long:  "Accepts image processing requests, forwards them to a remote workflow processor, and tracks task progress behind a credits ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run() error {
	cfg := config.Load()
	config.ConfigureGlobalLogger()

	if err := cfg.ValidateStorageConfig(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// task progress store; shared across worker processes
	store := progress.NewRedisStore(cfg.Redis)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	// credits ledger: postgres when configured, in-memory otherwise
	var ledger credits.Ledger
	if cfg.DatabaseURL != "" {
		pgLedger, err := credits.NewPostgresLedger(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres ledger: %w", err)
		}
		defer pgLedger.Close()
		ledger = pgLedger
		logrus.Info("Using postgres credits ledger")
	} else {
		ledger = credits.NewMemoryLedger(cfg.Credits.StartingGrant)
		logrus.Warn("DATABASE_URL not set, using in-memory credits ledger; balances will not survive restarts")
	}

	// artifact storage
	var artifacts orchestrator.ArtifactStore
	filesDir := ""
	switch cfg.Storage.Backend {
	case "s3":
		s3Store, err := artifact.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("s3 artifact store: %w", err)
		}
		artifacts = s3Store
		logrus.WithField("bucket", cfg.Storage.S3Bucket).Info("Using s3 artifact store")
	default:
		localStore, err := artifact.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.BaseURL)
		if err != nil {
			return fmt.Errorf("local artifact store: %w", err)
		}
		artifacts = localStore
		filesDir = localStore.Dir()
		logrus.WithField("dir", filesDir).Info("Using local artifact store")
	}

	// remote processor client and per-strategy workflow templates
	client := comfyui.NewClient(cfg.Comfy)
	poll := poller.NewPoller(client, cfg.Comfy.PollTimeout)

	registry := processor.NewRegistry()
	registry.Register(processor.NewGrayscaleStrategy())
	registry.Register(processor.NewTextToImageStrategy(client,
		workflow.LoadOrDefault(cfg.Comfy.TextToImageWorkflow), poll))
	registry.Register(processor.NewStyleTransferStrategy(client,
		workflow.LoadOrDefault(cfg.Comfy.StyleWorkflow), poll))
	registry.Register(processor.NewUpscaleStrategy(client,
		workflow.LoadOrDefault(cfg.Comfy.UpscaleWorkflow), poll))
	logrus.WithField("processors", registry.Names()).Info("Processing strategies registered")

	orch := orchestrator.NewOrchestrator(registry, store, ledger, artifacts, orchestrator.Options{
		CostPerOperation: cfg.Credits.CostPerOperation,
		RefundOnFailure:  cfg.Credits.RefundOnFailure,
		WorkerPoolSize:   cfg.Orchestrator.WorkerPoolSize,
	})

	// HTTP server; readiness tracks the dependencies the request path needs
	readyChecks := map[string]api.ReadyCheck{
		"redis":   store.Ping,
		"comfyui": client.HealthCheck,
	}
	router := gin.Default()
	apiHandler := api.NewHandler(orch, registry, store, ledger, filesDir, readyChecks)
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("Server starting on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to listen: %s\n", err)
		}
	}()

	// wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// let in-flight background tasks write their terminal state
	orch.Wait()

	logrus.Info("Server exited")
	return nil
}
