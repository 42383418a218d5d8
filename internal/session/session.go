// Package session holds the signed-in subject's current profile and answers
// authorization questions against it. A Session is an explicit value; there
// is no package-level state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/authz"
	"github.com/SAP-F-2025/access-control-service/internal/guestaccess"
	"github.com/SAP-F-2025/access-control-service/internal/models"
)

// Subscriber streams a profile's current state and every later change
type Subscriber interface {
	Subscribe(ctx context.Context, id string) (<-chan *models.UserProfile, error)
}

type Session struct {
	mu      sync.RWMutex
	profile *models.UserProfile

	calculator *guestaccess.Calculator
	routes     *authz.RouteTable
	logger     *slog.Logger
	onRefresh  func(*Session)
}

type Option func(*Session)

func WithRouteTable(routes *authz.RouteTable) Option {
	return func(s *Session) {
		if routes != nil {
			s.routes = routes
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRefreshHook runs fn after Watch applies each pushed snapshot
func WithRefreshHook(fn func(*Session)) Option {
	return func(s *Session) {
		s.onRefresh = fn
	}
}

// New returns a session over profile, which may be nil for an anonymous subject
func New(profile *models.UserProfile, calculator *guestaccess.Calculator, opts ...Option) *Session {
	if calculator == nil {
		calculator = guestaccess.NewCalculator(guestaccess.DefaultDurationHours, nil)
	}
	s := &Session{
		profile:    profile.Clone(),
		calculator: calculator,
		routes:     authz.DefaultRouteTable(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh replaces the snapshot; nil means the profile no longer exists
func (s *Session) Refresh(profile *models.UserProfile) {
	snapshot := profile.Clone()
	s.mu.Lock()
	s.profile = snapshot
	s.mu.Unlock()
}

// Profile returns a copy of the current snapshot
func (s *Session) Profile() *models.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

// snapshot returns the stored pointer; callers must treat it as read-only
func (s *Session) snapshot() *models.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *Session) HasRole(role models.UserRole) bool {
	return authz.HasRole(s.snapshot(), role)
}

func (s *Session) HasPermission(permission models.Permission) bool {
	profile := s.snapshot()
	if s.calculator.IsExpired(profile) {
		return false
	}
	return authz.HasPermission(profile, permission)
}

func (s *Session) HasAnyPermission(permissions ...models.Permission) bool {
	profile := s.snapshot()
	if s.calculator.IsExpired(profile) {
		return false
	}
	return authz.HasAnyPermission(profile, permissions...)
}

func (s *Session) HasAllPermissions(permissions ...models.Permission) bool {
	profile := s.snapshot()
	if s.calculator.IsExpired(profile) {
		return false
	}
	return authz.HasAllPermissions(profile, permissions...)
}

// EffectivePermissions is empty for an expired guest
func (s *Session) EffectivePermissions() []models.Permission {
	profile := s.snapshot()
	if s.calculator.IsExpired(profile) {
		return []models.Permission{}
	}
	return authz.EffectivePermissions(profile)
}

// CanAccessRoute limits an expired guest to the public auth routes
func (s *Session) CanAccessRoute(path string) bool {
	profile := s.snapshot()
	if s.calculator.IsExpired(profile) {
		return s.routes.IsPublic(path)
	}
	return s.routes.CanAccess(profile, path)
}

func (s *Session) HomeRoute() string {
	profile := s.snapshot()
	if s.calculator.IsExpired(profile) {
		return authz.LoginRoute
	}
	return authz.HomeRouteFor(profile)
}

func (s *Session) IsExpired() bool {
	return s.calculator.IsExpired(s.snapshot())
}

func (s *Session) TimeRemaining() *time.Duration {
	return s.calculator.TimeRemaining(s.snapshot())
}

func (s *Session) IsSuspended() bool {
	profile := s.snapshot()
	return profile != nil && profile.Suspended
}

// Watch keeps the snapshot current from the store's push subscription until
// ctx ends or the subscription closes
func (s *Session) Watch(ctx context.Context, subscriber Subscriber, id string) error {
	updates, err := subscriber.Subscribe(ctx, id)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case profile, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			s.Refresh(profile)
			if profile == nil {
				s.logger.Info("Session profile removed", "profile_id", id)
			}
			if s.onRefresh != nil {
				s.onRefresh(s)
			}
		}
	}
}
