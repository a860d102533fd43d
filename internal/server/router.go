package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/vitalloop/metabolic-backend/internal/handlers"
	"github.com/vitalloop/metabolic-backend/internal/middleware"
)

type RouterConfig struct {
	PlanHandler        *handlers.PlanHandler
	ProfileHandler     *handlers.ProfileHandler
	JobsHandler        *handlers.JobsHandler
	IdentityMiddleware *middleware.IdentityMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-User-ID"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)

	// Everything else runs behind the gateway-resolved identity.
	api := router.Group("/api")
	api.Use(cfg.IdentityMiddleware.RequireUser())
	{
		// Plans
		api.POST("/plans/generate", cfg.PlanHandler.Generate)
		api.GET("/plans/today", cfg.PlanHandler.Today)
		// Profile
		api.GET("/profile", cfg.ProfileHandler.Get)
		api.PUT("/profile", cfg.ProfileHandler.Upsert)
		// Batch recompute (admin-routed by the gateway)
		api.POST("/jobs/recompute-all", cfg.JobsHandler.TriggerRecompute)
		api.GET("/jobs/recompute-all/status", cfg.JobsHandler.RecomputeStatus)
	}

	return router
}
