package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type ChangeRoleRequest = validator.ChangeRoleRequest
type UpdatePermissionsRequest = validator.UpdatePermissionsRequest
type SetSuspendedRequest = validator.SetSuspendedRequest
type GuestAccessRequest = validator.GuestAccessRequest
type AssignInstitutionRequest = validator.AssignInstitutionRequest
type ReasonRequest = validator.ReasonRequest
type AuditLogQuery = validator.AuditLogQuery

// MutationResult is the profile after a mutation plus the audit entries it produced
type MutationResult struct {
	Profile  *models.UserProfile `json:"profile,omitempty"`
	AuditIDs []string            `json:"audit_ids"`
}

// AccessSummary is what a signed-in subject may see about their own access
type AccessSummary struct {
	UserID             string              `json:"user_id"`
	Email              string              `json:"email"`
	Role               models.UserRole     `json:"role"`
	HomeRoute          string              `json:"home_route"`
	Permissions        []models.Permission `json:"permissions"`
	InstitutionID      *string             `json:"institution_id,omitempty"`
	Suspended          bool                `json:"suspended"`
	GuestAccessExpiry  *time.Time          `json:"guest_access_expiry,omitempty"`
	GuestAccessExpired bool                `json:"guest_access_expired"`
	TimeRemaining      string              `json:"time_remaining,omitempty"`
}

type RouteCheckResponse struct {
	Path    string `json:"path"`
	Allowed bool   `json:"allowed"`
}

// AuditLogView pairs an entry with its display line
type AuditLogView struct {
	*models.AuditLogEntry
	Description string `json:"description"`
}

type AuditLogListResponse struct {
	Entries []*AuditLogView `json:"entries"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ===== SERVICE INTERFACES =====

// AccessService performs every privilege-affecting mutation. Each operation
// validates first and writes nothing on rejection; on success the profile is
// written before its audit entries.
type AccessService interface {
	GetProfile(ctx context.Context, profileID string) (*models.UserProfile, error)
	GetAccessSummary(ctx context.Context, profileID string) (*AccessSummary, error)
	WatchAccess(ctx context.Context, profileID string, send func(*AccessSummary)) error
	CheckRoute(ctx context.Context, profileID, path string) (*RouteCheckResponse, error)

	ChangeRole(ctx context.Context, profileID string, req *ChangeRoleRequest, actor models.Actor) (*MutationResult, error)
	UpdatePermissions(ctx context.Context, profileID string, req *UpdatePermissionsRequest, actor models.Actor) (*MutationResult, error)
	SetSuspended(ctx context.Context, profileID string, req *SetSuspendedRequest, actor models.Actor) (*MutationResult, error)
	GrantGuestAccess(ctx context.Context, profileID string, req *GuestAccessRequest, actor models.Actor) (*MutationResult, error)
	ExtendGuestAccess(ctx context.Context, profileID string, req *GuestAccessRequest, actor models.Actor) (*MutationResult, error)
	RevokeGuestAccess(ctx context.Context, profileID string, req *ReasonRequest, actor models.Actor) (*MutationResult, error)
	DeleteUser(ctx context.Context, profileID string, req *ReasonRequest, actor models.Actor) (*MutationResult, error)
	AssignInstitution(ctx context.Context, profileID string, req *AssignInstitutionRequest, actor models.Actor) (*MutationResult, error)
	RemoveInstitution(ctx context.Context, profileID string, req *ReasonRequest, actor models.Actor) (*MutationResult, error)
}

// AuditService is the read-only side of the audit trail
type AuditService interface {
	History(ctx context.Context, query *AuditLogQuery) (*AuditLogListResponse, error)
	ByTarget(ctx context.Context, targetUserID string, limit, offset int) (*AuditLogListResponse, error)
	ByType(ctx context.Context, eventType models.AuditEventType, limit, offset int) (*AuditLogListResponse, error)
	Describe(entry *models.AuditLogEntry) string
	Export(ctx context.Context, query *AuditLogQuery) ([]byte, error)
}

// ServiceManager owns the service instances and their lifecycle
type ServiceManager interface {
	Initialize(ctx context.Context) error
	Access() AccessService
	Audit() AuditService
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
