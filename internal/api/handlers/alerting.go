package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetQueueMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queues":    h.engine.LatestSamples(),
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) GetAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, gin.H{
		"active":    h.engine.ActiveAlerts(),
		"history":   h.engine.History(limit),
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) GetAlertConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Thresholds())
}
