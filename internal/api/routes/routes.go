package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/uptimewatcher/backend/internal/api/handlers"
	"github.com/uptimewatcher/backend/internal/services"
	"github.com/uptimewatcher/backend/internal/sitesync"
)

// Dependencies are the long-lived components the HTTP API serves.
type Dependencies struct {
	DB       *gorm.DB
	Service  *services.MonitoringService
	Events   *services.EventBroker
	Store    *sitesync.Store
	Actions  *sitesync.Actions
	Gatherer prometheus.Gatherer
}

// Register wires up API routes.
func Register(router *gin.Engine, deps Dependencies) error {
	if deps.Service == nil || deps.Store == nil || deps.Actions == nil || deps.Events == nil {
		return fmt.Errorf("register routes: missing dependencies")
	}

	router.GET("/api/v1/health", handlers.HealthHandler(deps.DB))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	sitesHandler := handlers.NewSitesHandler(deps.Actions, deps.Store, deps.Service)
	sites := api.Group("/sites")
	sites.GET("", sitesHandler.List)
	sites.POST("", sitesHandler.Create)
	sites.GET("/:id", sitesHandler.Get)
	sites.DELETE("/:id", sitesHandler.Delete)
	sites.POST("/:id/monitoring/start", sitesHandler.StartSite)
	sites.POST("/:id/monitoring/stop", sitesHandler.StopSite)
	sites.POST("/:id/monitors/:monitorId/check", sitesHandler.CheckNow)
	sites.POST("/:id/monitors/:monitorId/monitoring/start", sitesHandler.StartMonitor)
	sites.POST("/:id/monitors/:monitorId/monitoring/stop", sitesHandler.StopMonitor)

	eventsHandler := handlers.NewEventsHandler(deps.Events)
	api.GET("/events", eventsHandler.Stream)

	return nil
}
