package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/service"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/response"
)

type syncService interface {
	Trigger(ctx context.Context, tenantID string, req service.TriggerSyncRequest) (*models.SyncRun, error)
	Status(ctx context.Context, tenantID string) (*models.SyncRun, error)
}

// SyncHandler exposes the sync trigger and status endpoints.
type SyncHandler struct {
	sync syncService
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(sync syncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Register mounts the sync routes on group.
func (h *SyncHandler) Register(group *gin.RouterGroup) {
	tenants := group.Group("/sync/tenants/:tenantId")
	tenants.POST("", h.Trigger)
	tenants.GET("/status", h.Status)
}

// Trigger queues a sync run for the tenant. An empty body syncs every domain.
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req service.TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid JSON payload"))
		return
	}
	run, err := h.sync.Trigger(c.Request.Context(), c.Param("tenantId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, run)
}

// Status returns the most recent run of the tenant.
func (h *SyncHandler) Status(c *gin.Context) {
	run, err := h.sync.Status(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run)
}
