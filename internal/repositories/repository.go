package repositories

import "context"

// Repository groups the profile store and the audit store
type Repository interface {
	Profile() ProfileRepository
	AuditLog() AuditLogRepository

	// SupportsTransactions reports whether WithTransaction spans both stores atomically
	SupportsTransactions() bool

	// WithTransaction runs fn against a transaction-scoped repository.
	// Stores without cross-store transactions run fn directly.
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
