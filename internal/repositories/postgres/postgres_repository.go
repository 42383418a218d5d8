package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/access-control-service/internal/cache"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
)

// PostgreSQLRepository implements the main Repository interface
type PostgreSQLRepository struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cacheManager *cache.CacheManager
	notifier     *ProfileNotifier

	// Repository instances
	profile  repositories.ProfileRepository
	auditLog repositories.AuditLogRepository
}

// RepositoryConfig holds configuration for repository initialization
type RepositoryConfig struct {
	DB          *gorm.DB
	RedisClient *redis.Client

	// AutoMigrate creates the tables and the append-only trigger on Initialize
	AutoMigrate bool
}

// NewPostgreSQLRepository creates a new repository with all sub-repositories
func NewPostgreSQLRepository(config RepositoryConfig) *PostgreSQLRepository {
	repo := &PostgreSQLRepository{
		db:           config.DB,
		redisClient:  config.RedisClient,
		cacheManager: cache.NewCacheManager(config.RedisClient),
	}
	if config.RedisClient != nil {
		repo.notifier = NewProfileNotifier(config.RedisClient)
	}

	hooks := immediateHooks{}
	repo.profile = NewProfilePostgreSQL(config.DB, repo.cacheManager, repo.notifier, hooks)
	repo.auditLog = NewAuditLogPostgreSQL(config.DB, repo.cacheManager, hooks)

	return repo
}

// Profile returns the profile repository
func (r *PostgreSQLRepository) Profile() repositories.ProfileRepository {
	return r.profile
}

// AuditLog returns the audit log repository
func (r *PostgreSQLRepository) AuditLog() repositories.AuditLogRepository {
	return r.auditLog
}

func (r *PostgreSQLRepository) SupportsTransactions() bool {
	return true
}

// WithTransaction executes a function within a database transaction. Cache
// invalidation and change notifications run only once the commit succeeded.
func (r *PostgreSQLRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	hooks := &deferredHooks{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &PostgreSQLRepository{
			db:           tx,
			redisClient:  r.redisClient,
			cacheManager: r.cacheManager,
			notifier:     r.notifier,
		}
		txRepo.profile = NewProfilePostgreSQL(tx, r.cacheManager, r.notifier, hooks)
		txRepo.auditLog = NewAuditLogPostgreSQL(tx, r.cacheManager, hooks)

		return fn(txRepo)
	})
	if err != nil {
		return err
	}

	hooks.flush(ctx)
	return nil
}

// Ping checks the health of database and cache connections
func (r *PostgreSQLRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if r.redisClient != nil {
		if err := r.cacheManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache ping failed: %w", err)
		}
	}

	return nil
}

// Close closes all connections
func (r *PostgreSQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close Redis: %w", err)
		}
	}

	return nil
}

// RepositoryManager implements the RepositoryManager interface
type RepositoryManager struct {
	config RepositoryConfig
	repo   *PostgreSQLRepository
}

// NewRepositoryManager creates a new repository manager
func NewRepositoryManager(config RepositoryConfig) repositories.RepositoryManager {
	return &RepositoryManager{
		config: config,
	}
}

// Initialize initializes all repositories and connections
func (rm *RepositoryManager) Initialize() error {
	if rm.config.DB == nil {
		return fmt.Errorf("database connection is required")
	}

	sqlDB, err := rm.config.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	if rm.config.RedisClient != nil {
		if _, err := rm.config.RedisClient.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("Redis connection failed: %w", err)
		}
	}

	if rm.config.AutoMigrate {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
		defer cancelMigrate()
		if err := Migrate(migrateCtx, rm.config.DB); err != nil {
			return err
		}
	}

	rm.repo = NewPostgreSQLRepository(rm.config)

	return nil
}

// GetRepository returns the repository instance
func (rm *RepositoryManager) GetRepository() repositories.Repository {
	return rm.repo
}

// HealthCheck checks the health of all repository connections
func (rm *RepositoryManager) HealthCheck(ctx context.Context) error {
	if rm.repo == nil {
		return fmt.Errorf("repository not initialized")
	}

	return rm.repo.Ping(ctx)
}

// Shutdown gracefully shuts down all repository connections
func (rm *RepositoryManager) Shutdown(ctx context.Context) error {
	if rm.repo == nil {
		return nil
	}

	return rm.repo.Close()
}

// ===== COMMIT HOOKS =====

// commitHooks decides when side effects of a write (cache invalidation,
// change notification) are allowed to run
type commitHooks interface {
	afterCommit(ctx context.Context, fn func(context.Context))
}

type immediateHooks struct{}

func (immediateHooks) afterCommit(ctx context.Context, fn func(context.Context)) {
	fn(ctx)
}

type deferredHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func (h *deferredHooks) afterCommit(_ context.Context, fn func(context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *deferredHooks) flush(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}
