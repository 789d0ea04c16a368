package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"storyapp/backend/internal/activity"
	"storyapp/backend/internal/api"
	"storyapp/backend/internal/cluepolicy"
	"storyapp/backend/internal/config"
	"storyapp/backend/internal/eventbus"
	"storyapp/backend/internal/logging"
	"storyapp/backend/internal/mcp"
	"storyapp/backend/internal/repository"
	"storyapp/backend/internal/services"
	"storyapp/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Configuration loaded (config_file=%q)", viper.ConfigFileUsed())

	logger.Info("Starting Story Workflow Service")

	// Initialize the workflow store. Without a database host the service
	// runs on the in-memory store, which is enough for local development.
	var store repository.WorkflowStore
	if cfg.DB.Host != "" {
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize database: %v", err)
			log.Fatalf("Database initialization failed: %v", err)
		}
		defer dbPool.Close()

		pgStore := repository.NewPostgresWorkflowStore(dbPool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to ensure schema: %v", err)
			log.Fatalf("Schema initialization failed: %v", err)
		}
		store = pgStore
		logger.Info("Database connected")
	} else {
		store = repository.NewMemoryWorkflowStore()
		logger.Warn("db.host not configured, using in-memory workflow store")
	}

	// Event bus and stage activity monitor
	bus := eventbus.New(eventbus.Config{
		HistoryLimit:      cfg.Workflow.EventHistoryLimit,
		HeartbeatInterval: cfg.Workflow.HeartbeatInterval,
	})
	monitor := activity.NewMonitor(bus, cfg.Workflow.ActivityTTL)

	// Initialize service layer
	generator := services.NewDeepSeekClient(services.DeepSeekConfig{
		BaseURL:       cfg.Generation.BaseURL,
		APIKey:        cfg.Generation.APIKey,
		PlanningModel: cfg.Generation.PlanningModel,
		WritingModel:  cfg.Generation.WritingModel,
		ReviewModel:   cfg.Generation.ReviewModel,
		Temperature:   cfg.Generation.Temperature,
		MaxTokens:     cfg.Generation.MaxTokens,
		Timeout:       cfg.Generation.Timeout,
		MaxAttempts:   cfg.Generation.MaxAttempts,
	}, logger)

	policy := cluepolicy.DefaultPolicy()
	if cfg.Workflow.Chapter1MinClues > 0 {
		policy.Ch1MinClues = cfg.Workflow.Chapter1MinClues
	}
	if cfg.Workflow.MinExposures > 0 {
		policy.MinExposures = cfg.Workflow.MinExposures
	}

	workflowService := services.NewWorkflowService(store, generator, bus, monitor, logger, services.WorkflowServiceConfig{
		AutoFix:      cfg.Workflow.AutoFix,
		StrictSchema: cfg.Workflow.StrictSchema,
		Policy:       policy,
	})

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("storyapp-backend"))

	// Mount REST API handlers
	apiHandler := api.NewHandler(workflowService, bus, logger)
	e.GET("/healthz", apiHandler.Health)
	api.RegisterHandlers(e.Group("/api"), apiHandler)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(workflowService)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := ":8080"
	if cfg.TLS.Enable {
		// use TLS port 8443
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting (address=%s tls=%v)", addr, cfg.TLS.Enable)
		if cfg.TLS.Enable {
			// ensure certificate exists if requested
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert: %v", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		// Create shutdown context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		// Let in-flight pipelines finish persisting their final state.
		workflowService.Wait()

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
