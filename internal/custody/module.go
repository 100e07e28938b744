// Package custody wires the whitelist and withdrawal engine together and
// manages its lifecycle.
package custody

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/orbitax/custody/internal/custody/config"
	"github.com/orbitax/custody/internal/custody/events"
	"github.com/orbitax/custody/internal/custody/fees"
	"github.com/orbitax/custody/internal/custody/interfaces"
	"github.com/orbitax/custody/internal/custody/notification"
	"github.com/orbitax/custody/internal/custody/repository"
	"github.com/orbitax/custody/internal/custody/settlement"
	"github.com/orbitax/custody/internal/custody/twofa"
	"github.com/orbitax/custody/internal/custody/verification"
	"github.com/orbitax/custody/internal/custody/whitelist"
	"github.com/orbitax/custody/internal/custody/withdrawal"
	"github.com/orbitax/custody/pkg/logger"
)

// Module is the custody engine: whitelist management plus withdrawal
// settlement, with their background workers.
type Module struct {
	config *config.Config
	log    *zap.Logger

	db    *gorm.DB
	redis *redis.Client

	whitelistService  interfaces.WhitelistService
	withdrawalService interfaces.WithdrawalService

	repository       interfaces.Repository
	settlementClient interfaces.SettlementClient
	eventPublisher   interfaces.EventPublisher
	queue            *ChannelQueue

	workers []Worker
}

// Worker is a background worker owned by the module
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ModuleOptions holds module initialization dependencies. Directory and
// Secrets come from the embedding platform's user store.
type ModuleOptions struct {
	Config    *config.Config
	Logger    *zap.Logger
	Database  *gorm.DB
	Redis     *redis.Client
	Directory notification.Directory
	Secrets   twofa.SecretSource
}

// NewModule creates a custody module from the given options
func NewModule(opts ModuleOptions) (*Module, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := &Module{
		config: opts.Config,
		log:    opts.Logger,
		db:     opts.Database,
		redis:  opts.Redis,
	}
	if err := m.initializeComponents(opts); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return m, nil
}

func (m *Module) initializeComponents(opts ModuleOptions) error {
	m.repository = repository.NewRepository(m.db, logger.Named(m.log, "repository"))

	var destinations []events.Destination
	if m.config.Kafka.Enabled {
		destinations = append(destinations, events.NewKafkaDestination(
			m.config.Kafka.Brokers,
			m.config.Kafka.Topic,
			logger.Named(m.log, "events.kafka"),
		))
	}
	if m.config.Redis.Enabled && m.redis != nil {
		destinations = append(destinations, events.NewRedisDestination(
			m.redis,
			logger.Named(m.log, "events.redis"),
		))
	}
	m.eventPublisher = events.NewFanout(m.config.Kafka.Topic, destinations, logger.Named(m.log, "events"))

	notifier := notification.NewService(m.config.Email, opts.Directory, logger.Named(m.log, "notification"))
	issuer := verification.NewIssuer(m.config.Engine.TokenPepper)

	m.whitelistService = whitelist.NewStore(
		m.repository,
		issuer,
		notifier,
		m.eventPublisher,
		logger.Named(m.log, "whitelist"),
	)

	m.settlementClient = settlement.NewFireblocksClient(m.config.Settlement, logger.Named(m.log, "settlement"))
	m.queue = NewChannelQueue(m.config.Engine.QueueCapacity)

	verifier := twofa.NewVerifier(opts.Secrets, m.redis, logger.Named(m.log, "twofa"))

	m.withdrawalService = withdrawal.NewOrchestrator(
		m.repository,
		fees.NewCalculator(nil),
		m.settlementClient,
		m.queue,
		verifier,
		notifier,
		m.eventPublisher,
		logger.Named(m.log, "withdrawal"),
	)

	m.initializeWorkers()
	return nil
}

func (m *Module) initializeWorkers() {
	m.workers = append(m.workers, &SettlementWorker{
		queue:   m.queue,
		settler: m.withdrawalService,
		log:     logger.Named(m.log, "settlement-worker"),
		workers: m.config.Engine.SettlementWorkers,
	})

	m.workers = append(m.workers, &StaleWithdrawalWorker{
		repository: m.repository,
		queue:      m.queue,
		log:        logger.Named(m.log, "stale-sweep"),
		age:        m.config.Engine.StaleProcessingAge,
		interval:   m.config.Engine.StaleSweepInterval,
	})
}

// Start migrates the schema, starts workers, and verifies dependencies
func (m *Module) Start(ctx context.Context) error {
	m.log.Info("starting custody module")

	if err := m.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	for _, worker := range m.workers {
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker %s: %w", worker.Name(), err)
		}
		m.log.Info("started worker", zap.String("worker", worker.Name()))
	}

	if err := m.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	m.log.Info("custody module started")
	return nil
}

// Stop drains the workers. The database and redis handles arrive through
// ModuleOptions and stay open; whoever opened them closes them.
func (m *Module) Stop(ctx context.Context) error {
	m.log.Info("stopping custody module")

	for _, worker := range m.workers {
		if err := worker.Stop(ctx); err != nil {
			m.log.Error("failed to stop worker", zap.String("worker", worker.Name()), zap.Error(err))
		} else {
			m.log.Info("stopped worker", zap.String("worker", worker.Name()))
		}
	}

	m.log.Info("custody module stopped")
	return nil
}

func (m *Module) runMigrations() error {
	if err := m.repository.AutoMigrate(); err != nil {
		return err
	}
	return m.createIndexes()
}

// createIndexes adds the composite indexes AutoMigrate does not cover.
// Postgres-specific; other dialects log and continue.
func (m *Module) createIndexes() error {
	if m.db.Dialector.Name() != "postgres" {
		return nil
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_whitelist_addresses_user_active ON whitelist_addresses(user_id, asset) WHERE deactivated_at IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_whitelist_addresses_user_primary ON whitelist_addresses(user_id) WHERE is_primary",
		"CREATE INDEX IF NOT EXISTS idx_withdrawals_user_status ON withdrawals(user_id, status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_withdrawals_stale ON withdrawals(updated_at) WHERE status = 'processing'",
	}
	for _, index := range indexes {
		if err := m.db.Exec(index).Error; err != nil {
			m.log.Warn("failed to create index", zap.String("sql", index), zap.Error(err))
		}
	}
	return nil
}

// HealthCheck verifies the database, redis, and settlement provider
func (m *Module) HealthCheck(ctx context.Context) error {
	if err := m.repository.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if m.config.Redis.Enabled && m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	if err := m.settlementClient.HealthCheck(ctx); err != nil {
		// A degraded provider fails withdrawals, not startup.
		m.log.Warn("settlement provider health check failed", zap.Error(err))
	}
	return nil
}

// WhitelistService returns the whitelist service
func (m *Module) WhitelistService() interfaces.WhitelistService {
	return m.whitelistService
}

// WithdrawalService returns the withdrawal service
func (m *Module) WithdrawalService() interfaces.WithdrawalService {
	return m.withdrawalService
}

// InitializeDatabase opens a postgres connection from config
func InitializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// InitializeRedis opens a redis connection from config
func InitializeRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
