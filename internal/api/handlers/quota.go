package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/quota"
)

type reserveRequest struct {
	TenantID         string `json:"tenant_id" binding:"required"`
	Kind             string `json:"kind" binding:"required"`
	EstimatedMinutes int64  `json:"estimated_minutes"`
	DurationMs       int64  `json:"duration_ms"`
	VirtualUsers     int    `json:"virtual_users"`
}

// Reserve admits or blocks an execution before a worker starts it. Callers
// either pass estimated_minutes directly or let the server derive them from
// duration_ms (and virtual_users for load tests).
func (h *Handler) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := quota.ResourceKind(req.Kind)
	switch kind {
	case quota.KindBrowser, quota.KindLoad, quota.KindCheck:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resource kind"})
		return
	}

	minutes := req.EstimatedMinutes
	if minutes <= 0 {
		duration := time.Duration(req.DurationMs) * time.Millisecond
		if kind == quota.KindLoad && req.VirtualUsers > 0 {
			minutes = quota.EstimateLoadMinutes(req.VirtualUsers, duration)
		} else {
			minutes = quota.EstimateMinutes(duration)
		}
	}
	if minutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "estimated minutes must be positive"})
		return
	}

	admission := h.guard.Admit(c.Request.Context(), req.TenantID, kind, minutes)
	c.JSON(http.StatusOK, admission)
}

type releaseRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
}

func (h *Handler) Release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.guard.Release(c.Request.Context(), req.ReservationID); err != nil {
		h.logger.Error("Failed to release reservation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to release reservation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (h *Handler) GetReserved(c *gin.Context) {
	kind := quota.ResourceKind(c.Param("kind"))
	switch kind {
	case quota.KindBrowser, quota.KindLoad, quota.KindCheck:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resource kind"})
		return
	}

	minutes, err := h.guard.Reserved(c.Request.Context(), c.Param("tenant"), kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read reservations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": c.Param("tenant"),
		"kind":      kind,
		"minutes":   minutes,
	})
}
