package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"invoicescan/internal/api"
	"invoicescan/internal/api/handlers"
	"invoicescan/internal/repository"
	"invoicescan/internal/service"
	"invoicescan/pkg/config"
	"invoicescan/pkg/logger"
	"invoicescan/pkg/postgres"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logger.Init(cfg.Logger.Level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting invoicescan service")

	// Initialize database
	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db, appLogger); err != nil {
		appLogger.Fatal("Failed to prepare database schema", zap.Error(err))
	}

	// Initialize the model integration. Initialization failure does not
	// crash the process: requests surface it explicitly and the liveness
	// probe reports the extractor as not ready.
	visionService, err := service.NewVisionService(&cfg.GigaChat, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize vision service, extraction requests will be rejected", zap.Error(err))
		visionService = nil
	}

	invoiceRepo := repository.NewInvoiceRepository(db, appLogger)
	invoiceService := service.NewInvoiceService(visionService, invoiceRepo, appLogger)

	invoiceHandler := handlers.NewInvoiceHandler(invoiceService, appLogger)
	healthHandler := handlers.NewHealthHandler(visionService)

	app := api.SetupRouter(invoiceHandler, healthHandler)

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
