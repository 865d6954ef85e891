package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/BeamX-Solutions/paid-marketing-plan-sub001/docs"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/config"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/db"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/email"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/generation"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/ledger"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/logger"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/server"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/user"

	"github.com/redis/go-redis/v9"
)

// @title PlanForge API
// @version 1.0
// @description Credit-gated AI marketing plan generation.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logger.Init()
	logger.Info("Starting PlanForge application")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Connecting to database...")
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Info("Database connected")

	if err := db.RunMigrations(database, "migrations"); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	emailService := email.New(
		cfg.EmailFrom,
		cfg.EmailFromName,
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUser,
		cfg.SMTPPass,
		cfg.RedisAddr,
	)
	defer emailService.Close()
	logger.Info("Email service initialized")

	creditsService := ledger.NewService(ledger.NewRepository(database))
	generator := generation.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorAPIKey, cfg.GeneratorTimeout)
	generationService := generation.NewService(
		generation.NewRepository(database),
		creditsService,
		generator,
		user.NewRepository(database),
		emailService,
		cfg.PlanCostCredits,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go emailService.Start(ctx)
	go creditsService.StartExpirySweep(ctx, cfg.SweepInterval)
	go generationService.StartReconciliationSweep(ctx, cfg.SweepInterval, cfg.StuckChargeTimeout)

	srv := server.New(ctx, database, cfg, rdb, emailService, creditsService, generationService)

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
