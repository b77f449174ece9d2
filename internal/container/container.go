package container

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"

	"gocutoff/adapters/postgres"
	"gocutoff/app"
	"gocutoff/internal/config"
	"gocutoff/internal/errors"
	"gocutoff/internal/migration"
	"gocutoff/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config

	// Infrastructure
	DB *sqlx.DB

	// Repositories (data access layer)
	RunRepo ports.RunRepository

	// Services
	Dataset          *app.Dataset
	ThresholdService *app.ThresholdService
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Container{
		Config: cfg,
	}, nil
}

// OpenDatabase connects to PostgreSQL when a URL is configured and runs migrations.
// Without a URL the container keeps runs in memory only.
func (c *Container) OpenDatabase(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		log.Printf("[Container] No DATABASE_URL configured, runs are kept in memory")
		return nil
	}

	db, err := sqlx.Connect("postgres", c.Config.Database.URL)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to connect to database"))
	}
	if c.Config.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	}
	return c.InitWithDatabase(ctx, db)
}

// InitWithDatabase initializes components that require database access
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db

	if err := db.PingContext(ctx); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "database connection test failed"))
	}

	if err := migration.NewRunner().Run(ctx, db); err != nil {
		return errors.Wrap(err, "database migration failed")
	}

	c.RunRepo = postgres.NewRunRepository(db)
	log.Printf("[Container] Run repository initialized")
	return nil
}

// LoadDataset reads the configured cohort files
func (c *Container) LoadDataset() error {
	ds, err := app.LoadDataset(c.Config.Data, c.Config.Engine)
	if err != nil {
		return err
	}
	c.Dataset = ds
	return nil
}

// Services wires the threshold service over whatever repository is available
func (c *Container) Services() *app.ThresholdService {
	if c.ThresholdService == nil {
		c.ThresholdService = app.NewThresholdService(c.RunRepo)
	}
	return c.ThresholdService
}

// Shutdown releases held resources
func (c *Container) Shutdown(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
