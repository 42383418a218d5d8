package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/audit"
	"github.com/SAP-F-2025/access-control-service/internal/events"
	"github.com/SAP-F-2025/access-control-service/internal/guestaccess"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	Access ServiceConfig
	Audit  ServiceConfig

	// Guest window used when a request does not name one
	GuestAccessDurationHours int

	// Clock drives guest expiry and audit CreatedAt; nil means time.Now
	Clock func() time.Time

	DefaultTimeout time.Duration
}

type ServiceConfig struct {
	Enabled bool
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	repo      repositories.Repository
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *validator.Validator
	config    ServiceManagerConfig

	// Service instances
	accessService AccessService
	auditService  AuditService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies.
// publisher may be nil.
func NewServiceManager(repo repositories.Repository, publisher events.EventPublisher, logger *slog.Logger, validator *validator.Validator, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		validator: validator,
		config:    config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(repo repositories.Repository, publisher events.EventPublisher, logger *slog.Logger, validator *validator.Validator, guestDurationHours int) ServiceManager {
	config := ServiceManagerConfig{
		Access:                   ServiceConfig{Enabled: true},
		Audit:                    ServiceConfig{Enabled: true},
		GuestAccessDurationHours: guestDurationHours,
		DefaultTimeout:           30 * time.Second,
	}

	return NewServiceManager(repo, publisher, logger, validator, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	if err := sm.config.Validate(); err != nil {
		return err
	}

	sm.logger.Info("Initializing service manager")

	clock := sm.config.Clock
	if clock == nil {
		clock = time.Now
	}
	calculator := guestaccess.NewCalculator(sm.config.GuestAccessDurationHours, clock)

	if sm.config.Access.Enabled {
		writer := audit.NewWriter(sm.repo.AuditLog(), sm.publisher, sm.logger, audit.WithClock(clock))
		sm.accessService = NewAccessService(sm.repo, sm.logger, sm.validator, writer, calculator)
		sm.logger.Info("Access service initialized", "guest_access_duration_hours", calculator.DurationHours())
	}

	if sm.config.Audit.Enabled {
		sm.auditService = NewAuditService(sm.repo, sm.logger, sm.validator)
		sm.logger.Info("Audit service initialized")
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters
func (sm *serviceManager) Access() AccessService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Access.Enabled && sm.accessService != nil {
		return sm.accessService
	}

	panic("access service not enabled or not initialized")
}

func (sm *serviceManager) Audit() AuditService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}

	if sm.config.Audit.Enabled && sm.auditService != nil {
		return sm.auditService
	}

	panic("audit service not enabled or not initialized")
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// ===== CONFIGURATION VALIDATION =====

// Validate validates the service manager configuration
func (config *ServiceManagerConfig) Validate() error {
	var errors []string

	if config.DefaultTimeout < 0 {
		errors = append(errors, "default timeout cannot be negative")
	}

	if config.GuestAccessDurationHours < 0 {
		errors = append(errors, "guest access duration cannot be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}
