package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"cadencer/config"
	"cadencer/engine"
	"cadencer/middleware"
	"cadencer/routes"
	"cadencer/utils"
	"cadencer/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "CADENCER: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Step collaborators
	senderPool := utils.NewSenderPool(config.DB, log.New(os.Stdout, "POOL: ", log.LstdFlags))
	mailer := utils.NewSequenceMailer(config.DB, log.New(os.Stdout, "MAILER: ", log.LstdFlags), senderPool, config.AppConfig.BaseURL)
	taskService := utils.NewTaskService(config.DB)
	webhookClient := utils.NewWebhookClient()

	// Execution engine
	store := engine.NewGormStore(config.DB)
	clock := engine.SystemClock()
	gate := engine.NewGate(store, clock)
	dispatcher := engine.NewDispatcher(store, clock, mailer, taskService, webhookClient, log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))
	scanner := engine.NewScanner(store, clock, gate, dispatcher, log.New(os.Stdout, "SCANNER: ", log.LstdFlags))

	// Initialize and start the sequence worker
	interval := time.Duration(config.AppConfig.CycleIntervalSeconds) * time.Second
	sequenceWorker := worker.NewSequenceWorker(scanner, senderPool, logrus.New(), interval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sequenceWorker.Start(ctx)

	// Setup routes
	routes.SetupPublicRoutes(app, config.DB)
	routes.SetupAPIRoutes(app, config.DB, sequenceWorker)

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
