package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/api/handlers"
	"github.com/leozw/queue-warden/internal/api/middleware"
	"github.com/leozw/queue-warden/internal/config"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
}

func newRouter(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	return router
}

// NewOperatorServer serves the read-only alerting surface of the warden
// process: queue metrics, active/historical alerts, and the effective
// threshold configuration.
func NewOperatorServer(cfg *config.Config, h *handlers.Handler, logger *zap.Logger) *Server {
	router := newRouter(cfg, logger)

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	alerting := router.Group("/queue-alerting")
	{
		alerting.GET("/metrics", h.GetQueueMetrics)
		alerting.GET("/alerts", h.GetAlerts)
		alerting.GET("/config", h.GetAlertConfig)
	}

	return &Server{Config: cfg, Router: router}
}

// NewAdmissionServer serves the quota admission API the execution workers
// call before starting a job.
func NewAdmissionServer(cfg *config.Config, h *handlers.Handler, logger *zap.Logger) *Server {
	router := newRouter(cfg, logger)

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1/quota")
	{
		v1.POST("/reserve", h.Reserve)
		v1.POST("/release", h.Release)
		v1.GET("/:tenant/reserved/:kind", h.GetReserved)
	}

	return &Server{Config: cfg, Router: router}
}
