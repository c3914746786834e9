package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/internal/api"
	"github.com/satriahrh/narrasi/internal/auth"
	"github.com/satriahrh/narrasi/internal/jobs"
	"github.com/satriahrh/narrasi/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API with the server-sent event and websocket progress
channels, the job registry and static serving of stored assets.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	manager := jobs.NewManager(jobs.NewMemoryStore(), cfg.Jobs.Retention(), cfg.Jobs.CleanupInterval(), logger)
	manager.Start()
	defer manager.Stop()

	hub := websocket.NewHub(a.service, manager, websocket.HubConfig{
		Heartbeat:    cfg.Progress.Heartbeat(),
		Buffer:       cfg.Progress.Buffer,
		AllowOrigins: cfg.Server.AllowOrigins,
	}, logger)
	go hub.Run(ctx)

	var issuer *auth.Issuer
	if cfg.Auth.JWTSecret != "" {
		issuer, err = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
		if err != nil {
			return err
		}
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowOrigins}))
	e.Use(middleware.BodyLimit("2M"))

	api.InitRoutes(e, api.RouteConfig{
		Service:   a.service,
		Jobs:      manager,
		Hub:       hub,
		Storage:   a.storage,
		Metrics:   a.metricsHandler,
		Auth:      issuer,
		Heartbeat: cfg.Progress.Heartbeat(),
		Buffer:    cfg.Progress.Buffer,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("Server started",
		zap.String("addr", addr),
		zap.String("worker", cfg.Worker.Mode),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("transcription", cfg.Transcription.Provider))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return err
	}

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Background jobs still running at shutdown")
	}

	logger.Info("Server exited")
	return nil
}
