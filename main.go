package main

import (
	"context"
	"lifeline/config"
	"lifeline/controllers"
	"lifeline/database"
	"lifeline/events"
	"lifeline/middleware"
	"lifeline/repositories"
	"lifeline/routes"
	"lifeline/services"
	"lifeline/utils"
	"lifeline/workers"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	setupLogger(cfg)

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatal("Failed to connect to database: ", err)
	}
	defer database.Disconnect()

	// Initialize Redis
	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()

	// Repositories
	emergencyRepo := repositories.NewEmergencyRepository(db)
	ackRepo := repositories.NewAcknowledgmentRepository(db)
	deliveryRepo := repositories.NewDeliveryRepository(db)
	contactRepo := repositories.NewContactRepository(db)

	// Event bus
	publisher := events.NewStreamPublisher(redisClient, cfg.EventStream)

	// Delivery pipeline
	providers := config.InitChannelProviders(cfg)
	deliveryWorker := workers.NewDeliveryWorker(deliveryRepo, providers, services.DefaultRetryPolicy(), workers.DeliveryWorkerConfig{
		WorkerCount: cfg.WorkerCount,
		QueueSize:   cfg.QueueSize,
		SendTimeout: cfg.SendTimeout,
	})
	if err := deliveryWorker.Start(); err != nil {
		logrus.Fatal("Failed to start delivery worker: ", err)
	}

	dispatcherService := services.NewDispatcherService(deliveryRepo, contactRepo, deliveryWorker)

	// Lifecycle services
	escalationService := services.NewEscalationService(emergencyRepo, ackRepo, dispatcherService, services.EscalationConfig{
		Timeout:          cfg.EscalationTimeout,
		FollowUpInterval: cfg.FollowUpInterval,
		MaxFollowUps:     cfg.MaxFollowUps,
	})
	countdownService := services.NewCountdownService()
	lifecycleService := services.NewLifecycleService(
		emergencyRepo,
		ackRepo,
		contactRepo,
		publisher,
		countdownService,
		escalationService,
		services.LifecycleConfig{
			DefaultCountdown: time.Duration(cfg.DefaultCountdownSeconds) * time.Second,
			DeviceCountdown:  time.Duration(cfg.DeviceCountdownSeconds) * time.Second,
		},
	)

	// Event consumer feeds lifecycle events into the dispatcher
	consumer := events.NewStreamConsumer(redisClient, cfg.EventStream, cfg.ConsumerGroup, cfg.ConsumerName, dispatcherService)
	if err := consumer.Start(); err != nil {
		logrus.Fatal("Failed to start event consumer: ", err)
	}

	// Re-arm timers for emergencies that were in flight during the last
	// shutdown before accepting new traffic.
	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := lifecycleService.RecoverInFlight(recoverCtx); err != nil {
		logrus.Errorf("Recovery sweep failed: %v", err)
	}
	recoverCancel()

	// HTTP surface
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	authMiddleware := middleware.NewAuthMiddleware(jwtService)
	emergencyController := controllers.NewEmergencyController(lifecycleService, dispatcherService, escalationService, deliveryWorker)
	router := routes.SetupRoutes(cfg.Environment, emergencyController, authMiddleware)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.Info("Lifeline server starting on port ", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Error("Server forced to shutdown: ", err)
	}

	consumer.Stop()
	deliveryWorker.Stop()
	countdownService.Cleanup()
	escalationService.Cleanup()

	logrus.Info("Server shutdown complete")
}

func setupLogger(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Environment == "development" {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
