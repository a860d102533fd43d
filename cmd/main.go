package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron"

	"github.com/vitalloop/metabolic-backend/internal/cache"
	redisclient "github.com/vitalloop/metabolic-backend/internal/clients/redis"
	"github.com/vitalloop/metabolic-backend/internal/db"
	"github.com/vitalloop/metabolic-backend/internal/handlers"
	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/middleware"
	"github.com/vitalloop/metabolic-backend/internal/repos"
	"github.com/vitalloop/metabolic-backend/internal/server"
	"github.com/vitalloop/metabolic-backend/internal/services"
	"github.com/vitalloop/metabolic-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, relying on process environment")
	}
	planCfg := services.PlanConfigFromEnv(log)
	batchCfg := services.BatchConfigFromEnv(log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	profileRepo := repos.NewProfileRepo(thePG, log)
	planRecordRepo := repos.NewPlanRecordRepo(thePG, log)
	recomputeRunRepo := repos.NewRecomputeRunRepo(thePG, log)

	// Cache + services
	log.Info("Setting up services from main...")
	recordStore := services.NewRecordStore(planRecordRepo, log)
	planCache := cache.New(recordStore, planCfg.StalenessWindow, planCfg.ComputeWait, log)
	planService := services.NewPlanService(log, planCache, profileRepo, planRecordRepo, planCfg)
	fallbackService := services.NewOnDemandFallback(log, planCache, planRecordRepo, planService, planCfg)
	recomputeService := services.NewRecomputeService(log, planService, userRepo, recomputeRunRepo, planCfg, batchCfg)

	// Invalidation bus: optional, single-replica deploys run without it.
	var bus redisclient.InvalidationBus
	bus, err = redisclient.NewInvalidationBus(log)
	if err != nil {
		log.Warn("Invalidation bus unavailable, running single-replica", "error", err)
		bus = nil
	} else {
		if err := bus.StartForwarder(context.Background(), func(userID uuid.UUID) {
			planService.Invalidate(userID)
		}); err != nil {
			log.Warn("Could not start invalidation forwarder", "error", err)
		}
	}
	profileService := services.NewProfileService(thePG, log, profileRepo, userRepo, planService, bus)

	// Scheduled batch recompute
	cronSpec := utils.GetEnv("RECOMPUTE_CRON", "0 0 3 * * *", log)
	scheduler := cron.New()
	if err := scheduler.AddFunc(cronSpec, func() {
		if _, err := recomputeService.Trigger(context.Background()); err != nil {
			log.Warn("Scheduled recompute not started", "error", err)
		}
	}); err != nil {
		log.Error("Invalid RECOMPUTE_CRON spec", "spec", cronSpec, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Handlers
	log.Info("Setting up handlers from main...")
	planHandler := handlers.NewPlanHandler(planService, fallbackService)
	profileHandler := handlers.NewProfileHandler(profileService)
	jobsHandler := handlers.NewJobsHandler(recomputeService)

	// Middleware
	identityMiddleware := middleware.NewIdentityMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		PlanHandler:        planHandler,
		ProfileHandler:     profileHandler,
		JobsHandler:        jobsHandler,
		IdentityMiddleware: identityMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
