package handlers

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leozw/queue-warden/internal/alerting"
	"github.com/leozw/queue-warden/internal/db"
	"github.com/leozw/queue-warden/internal/quota"
)

type Handler struct {
	engine *alerting.Engine
	guard  *quota.Guard
	repo   *db.Repository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHandler(engine *alerting.Engine, guard *quota.Guard, repo *db.Repository, rdb *redis.Client, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		guard:  guard,
		repo:   repo,
		rdb:    rdb,
		logger: logger,
	}
}
