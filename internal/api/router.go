package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solarops/activity/internal/app"
	"github.com/solarops/activity/internal/handlers"
	"github.com/solarops/activity/internal/middleware"
	"github.com/solarops/activity/internal/monitoring"
	"github.com/solarops/activity/internal/realtime"
	"github.com/solarops/activity/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the activity routes.
// A nil health manager serves the health endpoints as disabled.
func NewRouter(health *monitoring.HealthManager, auth middleware.Authenticator, cfg *app.Config, activity *services.ActivityService, hub *realtime.Hub) (*gin.Engine, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if activity == nil {
		return nil, fmt.Errorf("activity service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins...))
	if cfg.RateLimit.Requests > 0 && cfg.RateLimit.Window > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}

	// Public
	registerHealthRoutes(r, health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := middleware.Auth(auth)

	realtimeHandler := handlers.NewRealtimeHandler(hub)
	r.GET("/ws/activity", requireAuth, realtimeHandler.Stream)

	registerActivityRoutes(r.Group("/api", requireAuth), handlers.NewActivityHandler(activity))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
