package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/internal/ledger"
	"github.com/pagepilot/pagepilot/internal/observability"
)

// Components holds the initialized services behind one Pilot and centralizes
// their lifecycle.
type Components struct {
	Pilot   *Pilot
	Metrics *observability.Metrics

	ledger      *ledger.Ledger
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
}

// Shutdown releases resources in dependency order: first the ledger drains
// its in-flight durable writes, then the stores those writes go to close.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.ledger != nil {
		c.ledger.Close()
		logger.Debug("Experience ledger drained.")
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			logger.Warn("Error closing Redis client.", zap.Error(err))
		} else {
			logger.Debug("Redis client closed.")
		}
	}

	if c.dbPool != nil {
		c.dbPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
