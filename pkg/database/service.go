package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	postgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"npos_election/pkg/config"
	"npos_election/pkg/utils"
)

const (
	embeddedUser     = "postgres"
	embeddedPassword = "postgres"
	embeddedDatabase = "npos_election"
)

// Service manages the database connection pool and provides the repository
type Service struct {
	pool     *pgxpool.Pool
	embedded *postgres.EmbeddedPostgres
	logger   *zap.Logger
	config   *config.DatabaseConfig
	repo     *PostgresRepository
	schema   *SchemaManager

	mu        sync.RWMutex
	isRunning bool
}

// NewService creates a new database service
func NewService(cfg *config.DatabaseConfig, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: cfg,
		logger: logger,
	}, nil
}

// Start optionally launches the embedded server, connects the pool and
// applies the schema
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("database service already running")
	}

	if s.config.Embedded {
		if err := s.startEmbedded(); err != nil {
			return err
		}
	}

	pool, err := s.createPool(ctx)
	if err != nil {
		s.cleanup()
		return err
	}
	s.pool = pool

	s.schema = NewSchemaManager(pool)
	if err := s.schema.InitializeSchema(ctx); err != nil {
		s.cleanup()
		return fmt.Errorf("initializing schema: %w", err)
	}

	s.repo = NewPostgresRepository(pool, s.logger)

	s.isRunning = true
	s.logger.Info("Database service started successfully",
		zap.Bool("embedded", s.config.Embedded))
	return nil
}

// Stop closes the pool and the embedded server
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cleanup()
	s.isRunning = false
	s.logger.Info("Database service stopped")
	return nil
}

// Repository returns the run repository; nil until Start succeeds
func (s *Service) Repository() *PostgresRepository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

// IsHealthy checks database health
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.pool.Ping(ctx) == nil
}

// ConnectionURL returns the URL the pool connects to
func (s *Service) ConnectionURL() string {
	if s.config.Embedded {
		return fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable",
			embeddedUser, embeddedPassword, s.config.Port, embeddedDatabase)
	}
	return s.config.URL
}

func (s *Service) startEmbedded() error {
	runtimePath := filepath.Join(s.config.DataPath, "runtime")
	pg := postgres.NewDatabase(
		postgres.DefaultConfig().
			Username(embeddedUser).
			Password(embeddedPassword).
			Database(embeddedDatabase).
			Version(postgres.V16).
			Port(uint32(s.config.Port)).
			RuntimePath(runtimePath).
			DataPath(filepath.Join(s.config.DataPath, "data")).
			StartTimeout(s.config.Timeout).
			Logger(utils.NewLogWriter(s.logger.Named("postgres"), zapcore.DebugLevel)))

	if err := pg.Start(); err != nil {
		return fmt.Errorf("starting embedded postgres: %w", err)
	}
	s.embedded = pg
	return nil
}

func (s *Service) createPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(s.ConnectionURL())
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}

	if s.config.MaxConns > 0 {
		poolConfig.MaxConns = int32(s.config.MaxConns)
	}
	poolConfig.MinConns = int32(s.config.MinConns)
	if s.config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = s.config.MaxConnLifetime
	}
	if s.config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = s.config.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second

	var pool *pgxpool.Pool
	connect := func() error {
		connectCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()

		p, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err != nil {
			return fmt.Errorf("creating connection pool: %w", err)
		}
		if err := p.Ping(connectCtx); err != nil {
			p.Close()
			return fmt.Errorf("pinging connection pool: %w", err)
		}
		pool = p
		return nil
	}

	if err := utils.RetryWithBackoff(ctx, connect, utils.DefaultRetryConfig()); err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *Service) cleanup() {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.embedded != nil {
		if err := s.embedded.Stop(); err != nil {
			s.logger.Warn("stopping embedded postgres", zap.Error(err))
		}
		s.embedded = nil
	}
}

// Config returns the database configuration
func (s *Service) Config() *config.DatabaseConfig {
	return s.config
}
