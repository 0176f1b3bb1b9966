package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uptimewatcher/backend/internal/api/middleware"
	"github.com/uptimewatcher/backend/internal/models"
	"github.com/uptimewatcher/backend/internal/services"
	"github.com/uptimewatcher/backend/internal/sitesync"
)

// SitesHandler serves the reconciled site list and drives site actions.
type SitesHandler struct {
	actions *sitesync.Actions
	store   *sitesync.Store
	service *services.MonitoringService
	// Timeout bounds each remote call made on behalf of a request.
	Timeout time.Duration
}

func NewSitesHandler(actions *sitesync.Actions, store *sitesync.Store, service *services.MonitoringService) *SitesHandler {
	return &SitesHandler{actions: actions, store: store, service: service, Timeout: 30 * time.Second}
}

func (h *SitesHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.Timeout)
}

// List returns every site as currently reconciled.
func (h *SitesHandler) List(c *gin.Context) {
	sites := h.store.GetSites()
	if sites == nil {
		sites = []*models.Site{}
	}
	c.JSON(http.StatusOK, sites)
}

func (h *SitesHandler) Get(c *gin.Context) {
	site, ok := h.store.Site(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
		return
	}
	c.JSON(http.StatusOK, site)
}

// Create stores a new site and resyncs the reconciled view.
func (h *SitesHandler) Create(c *gin.Context) {
	var site models.Site
	if err := c.ShouldBindJSON(&site); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.service.CreateSite(ctx, &site); err != nil {
		if errors.Is(err, models.ErrInvalidSite) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		middleware.GetRequestLogger(c).WithError(err).Error("failed to create site")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create site"})
		return
	}
	if !h.resync(ctx, c) {
		return
	}
	c.JSON(http.StatusCreated, site)
}

// Delete removes a site with its monitors and history.
func (h *SitesHandler) Delete(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.service.DeleteSite(ctx, c.Param("id")); err != nil {
		if errors.Is(err, sitesync.ErrSiteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Site not found"})
			return
		}
		middleware.GetRequestLogger(c).WithError(err).Error("failed to delete site")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete site"})
		return
	}
	if !h.resync(ctx, c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Site deleted"})
}

func (h *SitesHandler) resync(ctx context.Context, c *gin.Context) bool {
	if err := h.actions.SyncSites(ctx, h.service); err != nil {
		respondActionError(c, err)
		return false
	}
	return true
}

// CheckNow triggers an immediate check of one monitor and waits for its result.
func (h *SitesHandler) CheckNow(c *gin.Context) {
	siteID, monitorID := c.Param("id"), c.Param("monitorId")
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.actions.CheckSiteNow(ctx, siteID, monitorID); err != nil {
		respondActionError(c, err)
		return
	}
	h.respondSite(c, siteID)
}

func (h *SitesHandler) StartSite(c *gin.Context) {
	h.toggle(c, func(ctx context.Context) error {
		return h.actions.StartSiteMonitoring(ctx, c.Param("id"))
	})
}

func (h *SitesHandler) StopSite(c *gin.Context) {
	h.toggle(c, func(ctx context.Context) error {
		return h.actions.StopSiteMonitoring(ctx, c.Param("id"))
	})
}

func (h *SitesHandler) StartMonitor(c *gin.Context) {
	h.toggle(c, func(ctx context.Context) error {
		return h.actions.StartSiteMonitorMonitoring(ctx, c.Param("id"), c.Param("monitorId"))
	})
}

func (h *SitesHandler) StopMonitor(c *gin.Context) {
	h.toggle(c, func(ctx context.Context) error {
		return h.actions.StopSiteMonitorMonitoring(ctx, c.Param("id"), c.Param("monitorId"))
	})
}

func (h *SitesHandler) toggle(c *gin.Context, action func(context.Context) error) {
	ctx, cancel := h.requestContext(c)
	defer cancel()
	if err := action(ctx); err != nil {
		respondActionError(c, err)
		return
	}
	h.respondSite(c, c.Param("id"))
}

func (h *SitesHandler) respondSite(c *gin.Context, siteID string) {
	if site, ok := h.store.Site(siteID); ok {
		c.JSON(http.StatusOK, site)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Action completed"})
}

// respondActionError maps a failed site action onto an HTTP status.
func respondActionError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	msg := "Monitoring backend request failed"
	switch {
	case errors.Is(err, sitesync.ErrSiteNotFound):
		status, msg = http.StatusNotFound, "Site not found"
	case errors.Is(err, sitesync.ErrMonitorNotFound):
		status, msg = http.StatusNotFound, "Monitor not found"
	case errors.Is(err, services.ErrCheckRateLimited):
		status, msg = http.StatusTooManyRequests, "Too many manual checks, try again later"
	case sitesync.IsRemoteTimeout(err):
		status, msg = http.StatusGatewayTimeout, "Monitoring backend timed out"
	}
	if status >= 500 {
		middleware.GetRequestLogger(c).WithError(err).Warn("site action failed")
	}
	c.JSON(status, gin.H{"error": msg})
}
