package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/labops/services/batch/config"
	"example.com/labops/services/batch/internal/api"
	"example.com/labops/services/batch/internal/cache"
	"example.com/labops/services/batch/internal/db"
	"example.com/labops/services/batch/internal/erp"
	"example.com/labops/services/batch/internal/files"
	"example.com/labops/services/batch/internal/messagebus"
	"example.com/labops/services/batch/internal/repository"
	"example.com/labops/services/batch/internal/search"
	"example.com/labops/services/batch/internal/service"
	"example.com/labops/services/batch/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		// Load configuration
		cfg, err := config.Load()
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}

		// Setup logger
		logger := logrus.New()
		if cfg.LogFormat == "json" {
			logger.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logger.SetFormatter(&logrus.TextFormatter{
				FullTimestamp: true,
			})
		}

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)

		// Connect to database
		dbConn, err := db.Connect(&cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}

		// Run migrations
		if cfg.EnableMigrations {
			if err := db.Migrate(dbConn); err != nil {
				logger.Fatalf("Failed to run database migrations: %v", err)
			}
		}

		// Initialize cache
		cacheClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}

		// Initialize message bus
		var busClient messagebus.Client
		if cfg.ServiceBus.ConnectionString != "" {
			busClient, err = messagebus.NewClient(&cfg.ServiceBus)
			if err != nil {
				logger.Fatalf("Failed to initialize message bus: %v", err)
			}
		} else {
			logger.Warn("Service bus connection string not set, ERP events disabled")
		}

		// Initialize search
		var searchClient search.Client
		searchClient, err = search.NewClient(cfg.Elasticsearch)
		if err != nil {
			logger.Warnf("Failed to connect to Elasticsearch, archive search disabled: %v", err)
			searchClient = nil
		}

		// Initialize tracing
		tracer, err := tracing.NewTracer(cfg.Tracing)
		if err != nil {
			logger.Fatalf("Failed to initialize tracing: %v", err)
		}

		// Collaborator clients
		fileProvider := files.NewRESTProvider(cfg.FilesBaseURL)
		workOrderClient := erp.NewRESTClient(cfg.ERPBaseURL)

		// Create repositories
		itemRepo := repository.NewItemRepository(dbConn)
		txnRepo := repository.NewTransactionRepository(dbConn)
		batchRepo := repository.NewBatchRepository(dbConn)

		// Create services
		ledgerService := service.NewLedgerService(txnRepo, itemRepo, cacheClient)
		archiveService := service.NewArchiveService(batchRepo, fileProvider, searchClient)
		batchService := service.NewBatchService(
			batchRepo,
			txnRepo,
			ledgerService,
			archiveService,
			fileProvider,
			workOrderClient,
			busClient,
			cacheClient,
			cfg.ERPQueue,
		)

		// Create API server
		handler := api.NewHandler(batchService, ledgerService, archiveService)
		server := api.NewServer(cfg, logger, handler, tracer)

		// Start server in a goroutine
		go func() {
			if err := server.Start(); err != nil {
				logger.Fatalf("Failed to start server: %v", err)
			}
		}()

		// Wait for interrupt signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		// Create context with timeout for graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		logger.Info("Shutting down server...")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Fatalf("Server shutdown failed: %v", err)
		}

		if busClient != nil {
			if err := busClient.Close(shutdownCtx); err != nil {
				logger.Errorf("Message bus closure failed: %v", err)
			}
		}

		logger.Info("Server shutdown complete")
	},
}
