package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
	"github.com/pagepilot/pagepilot/internal/ledger"
	"github.com/pagepilot/pagepilot/internal/observability"
	"github.com/pagepilot/pagepilot/internal/policy"
	"github.com/pagepilot/pagepilot/internal/scoring"
	"github.com/pagepilot/pagepilot/internal/selector"
	"github.com/pagepilot/pagepilot/internal/session"
	"github.com/pagepilot/pagepilot/internal/store"
)

// Options carries the external collaborators the factory cannot build itself.
// All fields are optional: a nil executor limits the pipeline to
// request-user-selection outcomes, nil stores keep everything in memory.
type Options struct {
	Executor schemas.ActionExecutor
	Vision   schemas.VisionLocator
	// Registry receives the Prometheus collectors; nil uses the default.
	Registry prometheus.Registerer
}

// ComponentFactory assembles the full pipeline from configuration. The
// abstraction exists so command-level tests can substitute a fake.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of the
// decision pipeline. Partially created components are shut down on failure.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	components := &Components{}
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	metrics := observability.NewMetrics(registry)
	components.Metrics = metrics
	logger.Debug("Metrics collectors registered.")

	// 1. Durable experience store, only when a database is configured.
	var experienceStore schemas.ExperienceStore
	if cfg.Database.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.dbPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize experience store: %w", err)
			return nil, initializationErr
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		experienceStore = dbStore
		logger.Debug("Durable experience store initialized.")
	} else {
		logger.Debug("No database configured, experiences stay in memory.")
	}

	// 2. Session store, only when Redis is configured.
	var sessions schemas.SessionStore
	if cfg.Session.Redis.Addr != "" {
		client := session.NewClient(cfg.Session.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			initializationErr = fmt.Errorf("failed to ping Redis: %w", err)
			_ = client.Close()
			return nil, initializationErr
		}
		components.redisClient = client
		sessions = session.New(cfg.Session, client, logger)
		logger.Debug("Session store initialized.")
	} else {
		logger.Debug("No Redis configured, session tracking disabled.")
	}

	// 3. Learning core.
	model := policy.NewPreferenceModel(cfg.Policy, logger)
	agent := policy.NewAgent(model, cfg.Scoring.Weights, nil, logger)
	metrics.ExplorationRate.Set(model.ExplorationRate())

	engine, err := scoring.New(cfg.Scoring, model, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}

	led := ledger.New(cfg.Ledger, model, cfg.Scoring.Weights, experienceStore, metrics, logger)
	components.ledger = led

	sel := selector.New(cfg.Selector, opts.Executor, opts.Vision, led, metrics, logger)

	components.Pilot = NewPilot(engine, agent, model, sel, led, sessions, metrics, logger)
	logger.Info("All components initialized successfully.")
	return components, nil
}
