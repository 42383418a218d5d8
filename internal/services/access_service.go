package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/audit"
	"github.com/SAP-F-2025/access-control-service/internal/guestaccess"
	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
	"github.com/SAP-F-2025/access-control-service/internal/session"
	"github.com/SAP-F-2025/access-control-service/internal/transition"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
)

type accessService struct {
	repo        repositories.Repository
	logger      *slog.Logger
	validator   *validator.Validator
	writer      *audit.Writer
	calculator  *guestaccess.Calculator
	transitions *transition.Manager
}

func NewAccessService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, writer *audit.Writer, calculator *guestaccess.Calculator) AccessService {
	if calculator == nil {
		calculator = guestaccess.NewCalculator(guestaccess.DefaultDurationHours, nil)
	}
	return &accessService{
		repo:        repo,
		logger:      logger,
		validator:   validator,
		writer:      writer,
		calculator:  calculator,
		transitions: transition.NewManager(calculator),
	}
}

// ===== QUERIES =====

func (s *accessService) GetProfile(ctx context.Context, profileID string) (*models.UserProfile, error) {
	return s.loadProfile(ctx, profileID)
}

func (s *accessService) GetAccessSummary(ctx context.Context, profileID string) (*AccessSummary, error) {
	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return summarize(session.New(profile, s.calculator)), nil
}

// WatchAccess calls send with the subject's current summary and again after
// every change to the profile, until ctx ends. A nil summary means the
// profile was deleted; WatchAccess returns right after sending it.
func (s *accessService) WatchAccess(ctx context.Context, profileID string, send func(*AccessSummary)) error {
	if strings.TrimSpace(profileID) == "" {
		return fmt.Errorf("%w: profile id is required", ErrValidationFailed)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(nil, s.calculator,
		session.WithLogger(s.logger),
		session.WithRefreshHook(func(current *session.Session) {
			summary := summarize(current)
			send(summary)
			if summary == nil {
				cancel()
			}
		}))

	err := sess.Watch(watchCtx, s.repo.Profile(), profileID)
	switch {
	case errors.Is(err, repositories.ErrSubscriptionUnavailable):
		return fmt.Errorf("%w: %w", ErrLiveUpdatesUnavailable, err)
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// profile deleted
		return nil
	}
	return err
}

// summarize reads the session snapshot; nil when there is no profile
func summarize(sess *session.Session) *AccessSummary {
	profile := sess.Profile()
	if profile == nil {
		return nil
	}
	return &AccessSummary{
		UserID:             profile.ID,
		Email:              profile.Email,
		Role:               profile.Role,
		HomeRoute:          sess.HomeRoute(),
		Permissions:        sess.EffectivePermissions(),
		InstitutionID:      profile.InstitutionID,
		Suspended:          profile.Suspended,
		GuestAccessExpiry:  profile.GuestAccessExpiry,
		GuestAccessExpired: sess.IsExpired(),
		TimeRemaining:      guestaccess.FormatRemaining(sess.TimeRemaining()),
	}
}

func (s *accessService) CheckRoute(ctx context.Context, profileID, path string) (*RouteCheckResponse, error) {
	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return &RouteCheckResponse{
		Path:    path,
		Allowed: session.New(profile, s.calculator).CanAccessRoute(path),
	}, nil
}

// ===== ROLE TRANSITIONS =====

func (s *accessService) ChangeRole(ctx context.Context, profileID string, req *ChangeRoleRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Changing role", "profile_id", profileID, "to_role", req.ToRole, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	from := profile.Role
	if req.FromRole != "" {
		from = models.UserRole(req.FromRole)
	}

	plan, err := s.transitions.Plan(profile, from, models.UserRole(req.ToRole), s.calculator.Now())
	if err != nil {
		return nil, err
	}

	entries := s.transitionEntries(profile, plan, actor, req.Reason)
	entries = append(entries, s.guestLifecycleEntries(profile, plan, actor, req.Reason, s.calculator.DurationHours())...)

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: &plan.Patch, entries: entries})
}

// GrantGuestAccess moves a non-guest profile into the guest role
func (s *accessService) GrantGuestAccess(ctx context.Context, profileID string, req *GuestAccessRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Granting guest access", "profile_id", profileID, "duration_hours", req.DurationHours, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.Role == models.RoleGuest {
		return nil, ErrAlreadyGuest
	}

	// An institution supplied with the grant counts toward the guest requirement
	candidate := profile.Clone()
	assignInstitution := req.InstitutionID != "" &&
		(!profile.HasInstitution() || *profile.InstitutionID != req.InstitutionID)
	if assignInstitution {
		candidate.InstitutionID = models.StringPtr(req.InstitutionID)
	}

	now := s.calculator.Now()
	plan, err := s.transitions.Plan(candidate, profile.Role, models.RoleGuest, now)
	if err != nil {
		return nil, err
	}

	hours := s.durationOrDefault(req.DurationHours)
	plan.Patch.SetGuestExpiry(s.calculator.CalculateExpiry(now, hours))
	if assignInstitution {
		plan.Patch.SetInstitution(req.InstitutionID)
	}

	entries := s.transitionEntries(profile, plan, actor, req.Reason)
	if assignInstitution {
		entry := newEntry(models.AuditInstitutionAssigned, actor, profile, req.Reason)
		entry.InstitutionID = models.StringPtr(req.InstitutionID)
		entry.PreviousInstitutionID = copyString(profile.InstitutionID)
		entries = append(entries, entry)
	}
	entries = append(entries, s.guestLifecycleEntries(profile, plan, actor, req.Reason, hours)...)

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: &plan.Patch, entries: entries})
}

// ExtendGuestAccess restarts the guest window from now, whether or not it had lapsed
func (s *accessService) ExtendGuestAccess(ctx context.Context, profileID string, req *GuestAccessRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Extending guest access", "profile_id", profileID, "duration_hours", req.DurationHours, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.Role != models.RoleGuest {
		return nil, ErrNotGuest
	}

	now := s.calculator.Now()
	hours := s.durationOrDefault(req.DurationHours)
	newExpiry := s.calculator.CalculateExpiry(now, hours)

	patch := &models.ProfilePatch{UpdatedAt: now}
	patch.SetGuestExpiry(newExpiry)

	entry := newEntry(models.AuditGuestAccessExtended, actor, profile, req.Reason)
	entry.Metadata = map[string]interface{}{
		models.MetaOldExpiry:     formatExpiry(profile.GuestAccessExpiry),
		models.MetaNewExpiry:     formatExpiry(&newExpiry),
		models.MetaDurationHours: hours,
	}

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: patch, entries: []*models.AuditLogEntry{entry}})
}

// RevokeGuestAccess returns a guest to the student role; the institution is kept
func (s *accessService) RevokeGuestAccess(ctx context.Context, profileID string, req *ReasonRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Revoking guest access", "profile_id", profileID, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.Role != models.RoleGuest {
		return nil, ErrNotGuest
	}

	plan, err := s.transitions.Plan(profile, models.RoleGuest, models.RoleStudent, s.calculator.Now())
	if err != nil {
		return nil, err
	}

	entries := s.transitionEntries(profile, plan, actor, req.Reason)
	entries = append(entries, s.guestLifecycleEntries(profile, plan, actor, req.Reason, 0)...)

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: &plan.Patch, entries: entries})
}

// ===== PERMISSIONS, STATUS AND INSTITUTION =====

func (s *accessService) UpdatePermissions(ctx context.Context, profileID string, req *UpdatePermissionsRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Updating permissions", "profile_id", profileID, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	permissions, err := models.NewPermissionMap(req.Permissions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !profile.Role.SupportsPermissionOverrides() {
		return nil, fmt.Errorf("%w: %s", ErrPermissionsNotSupported, profile.Role)
	}
	if profile.Permissions.Equal(permissions) {
		return nil, ErrNoChange
	}

	patch := &models.ProfilePatch{UpdatedAt: s.calculator.Now()}
	patch.SetPermissions(permissions)

	entry := newEntry(models.AuditPermissionChange, actor, profile, req.Reason)
	entry.OldPermissions = profile.Permissions.Clone()
	entry.NewPermissions = permissions.Clone()

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: patch, entries: []*models.AuditLogEntry{entry}})
}

func (s *accessService) SetSuspended(ctx context.Context, profileID string, req *SetSuspendedRequest, actor models.Actor) (*MutationResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	suspended := *req.Suspended

	s.logger.Info("Setting suspension", "profile_id", profileID, "suspended", suspended, "actor_id", actor.ID)

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.Role == models.RoleAdmin {
		return nil, ErrAdminImmutable
	}
	if profile.Suspended == suspended {
		return nil, ErrNoChange
	}

	patch := &models.ProfilePatch{UpdatedAt: s.calculator.Now()}
	patch.SetSuspended(suspended)

	eventType := models.AuditUserUnsuspended
	if suspended {
		eventType = models.AuditUserSuspended
	}
	entry := newEntry(eventType, actor, profile, req.Reason)
	entry.Suspended = models.BoolPtr(suspended)

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: patch, entries: []*models.AuditLogEntry{entry}})
}

func (s *accessService) AssignInstitution(ctx context.Context, profileID string, req *AssignInstitutionRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Assigning institution", "profile_id", profileID, "institution_id", req.InstitutionID, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.Role == models.RoleAdmin {
		return nil, ErrAdminImmutable
	}
	if profile.HasInstitution() && *profile.InstitutionID == req.InstitutionID {
		return nil, ErrNoChange
	}

	patch := &models.ProfilePatch{UpdatedAt: s.calculator.Now()}
	patch.SetInstitution(req.InstitutionID)

	entry := newEntry(models.AuditInstitutionAssigned, actor, profile, req.Reason)
	entry.InstitutionID = models.StringPtr(req.InstitutionID)
	entry.PreviousInstitutionID = copyString(profile.InstitutionID)

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: patch, entries: []*models.AuditLogEntry{entry}})
}

// RemoveInstitution refuses guests, whose grant is scoped to the institution
func (s *accessService) RemoveInstitution(ctx context.Context, profileID string, req *ReasonRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Removing institution", "profile_id", profileID, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !profile.HasInstitution() {
		return nil, ErrNoChange
	}
	if profile.Role == models.RoleGuest {
		return nil, ErrMissingInstitution
	}

	patch := &models.ProfilePatch{UpdatedAt: s.calculator.Now()}
	patch.UnsetInstitution()

	entry := newEntry(models.AuditInstitutionRemoved, actor, profile, req.Reason)
	entry.PreviousInstitutionID = copyString(profile.InstitutionID)

	return s.apply(ctx, &mutation{profileID: profile.ID, patch: patch, entries: []*models.AuditLogEntry{entry}})
}

func (s *accessService) DeleteUser(ctx context.Context, profileID string, req *ReasonRequest, actor models.Actor) (*MutationResult, error) {
	s.logger.Info("Deleting user", "profile_id", profileID, "actor_id", actor.ID)

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, err := s.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.Role == models.RoleAdmin {
		return nil, ErrAdminImmutable
	}

	entry := newEntry(models.AuditUserDeleted, actor, profile, req.Reason)
	entry.OldRole = models.RolePtr(profile.Role)
	entry.InstitutionID = copyString(profile.InstitutionID)
	entry.Metadata = map[string]interface{}{
		models.MetaDeletedRole: string(profile.Role),
	}

	return s.apply(ctx, &mutation{profileID: profile.ID, delete: true, entries: []*models.AuditLogEntry{entry}})
}

// ===== WRITE PATH =====

// mutation is one profile write followed by the audit entries it owes
type mutation struct {
	profileID string
	patch     *models.ProfilePatch
	delete    bool
	entries   []*models.AuditLogEntry
}

// auditAppendError marks a failed audit append inside write
type auditAppendError struct {
	cause error
}

func (e *auditAppendError) Error() string { return e.cause.Error() }

func (e *auditAppendError) Unwrap() error { return e.cause }

// apply writes the profile, then the audit entries. With a transactional
// store both run in one transaction and a failed append rolls the profile
// back (ErrMutationRolledBack). Otherwise a failed audit append leaves the
// profile change in place and returns ErrAuditWriteFailed with the entries
// that did get recorded.
func (s *accessService) apply(ctx context.Context, m *mutation) (*MutationResult, error) {
	for _, entry := range m.entries {
		if err := audit.Validate(entry); err != nil {
			return nil, fmt.Errorf("failed to build audit entry: %w", err)
		}
	}

	write := func(repo repositories.Repository) (*models.UserProfile, []*models.AuditLogEntry, error) {
		var updated *models.UserProfile
		var err error
		if m.delete {
			err = repo.Profile().Delete(ctx, m.profileID)
		} else {
			updated, err = repo.Profile().Update(ctx, m.profileID, m.patch)
		}
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, nil, ErrProfileNotFound
			}
			return nil, nil, fmt.Errorf("failed to write profile: %w", err)
		}

		writer := s.writer.WithStore(repo.AuditLog())
		recorded := make([]*models.AuditLogEntry, 0, len(m.entries))
		for _, entry := range m.entries {
			if err := writer.Record(ctx, entry); err != nil {
				return updated, recorded, &auditAppendError{cause: err}
			}
			recorded = append(recorded, entry)
		}
		return updated, recorded, nil
	}

	if s.repo.SupportsTransactions() {
		var updated *models.UserProfile
		var recorded []*models.AuditLogEntry
		err := s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
			var err error
			updated, recorded, err = write(tx)
			return err
		})
		if err != nil {
			var appendErr *auditAppendError
			if errors.As(err, &appendErr) {
				s.logger.Error("Access mutation rolled back", "error", appendErr.cause, "profile_id", m.profileID)
				return nil, fmt.Errorf("%w: %w", ErrMutationRolledBack, appendErr.cause)
			}
			return nil, err
		}
		s.writer.Publish(ctx, recorded...)
		return newMutationResult(updated, recorded), nil
	}

	updated, recorded, err := write(s.repo)
	s.writer.Publish(ctx, recorded...)
	if err != nil {
		var appendErr *auditAppendError
		if errors.As(err, &appendErr) {
			s.logger.Error("Profile changed without a complete audit record",
				"error", appendErr.cause,
				"profile_id", m.profileID,
				"missing_entries", len(m.entries)-len(recorded))
			return newMutationResult(updated, recorded), fmt.Errorf("%w: %w", ErrAuditWriteFailed, appendErr.cause)
		}
		return nil, err
	}

	s.logger.Info("Profile mutation recorded", "profile_id", m.profileID, "audit_entries", len(recorded))
	return newMutationResult(updated, recorded), nil
}

// ===== HELPERS =====

func (s *accessService) validate(req interface{}) error {
	if err := s.validator.Validate(req); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return nil
}

func (s *accessService) loadProfile(ctx context.Context, profileID string) (*models.UserProfile, error) {
	if strings.TrimSpace(profileID) == "" {
		return nil, fmt.Errorf("%w: profile id is required", ErrValidationFailed)
	}

	profile, err := s.repo.Profile().GetByID(ctx, profileID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

func (s *accessService) durationOrDefault(hours int) int {
	if hours <= 0 {
		return s.calculator.DurationHours()
	}
	return hours
}

// transitionEntries turns the plan's owed events into entries
func (s *accessService) transitionEntries(profile *models.UserProfile, plan *transition.Plan, actor models.Actor, reason string) []*models.AuditLogEntry {
	entries := make([]*models.AuditLogEntry, 0, len(plan.Events))
	for _, eventType := range plan.Events {
		entry := newEntry(eventType, actor, profile, reason)
		switch eventType {
		case models.AuditRoleChange:
			entry.OldRole = models.RolePtr(plan.OldRole)
			entry.NewRole = models.RolePtr(plan.NewRole)
		case models.AuditPermissionChange:
			entry.OldPermissions = plan.OldPermissions.Clone()
			entry.NewPermissions = plan.NewPermissions.Clone()
		}
		entries = append(entries, entry)
	}
	return entries
}

// guestLifecycleEntries records entering or leaving the guest window
func (s *accessService) guestLifecycleEntries(profile *models.UserProfile, plan *transition.Plan, actor models.Actor, reason string, hours int) []*models.AuditLogEntry {
	switch {
	case plan.NewRole == models.RoleGuest:
		entry := newEntry(models.AuditGuestAccessCreated, actor, profile, reason)
		entry.InstitutionID = copyString(plan.Patch.InstitutionID)
		if entry.InstitutionID == nil {
			entry.InstitutionID = copyString(profile.InstitutionID)
		}
		entry.Metadata = map[string]interface{}{
			models.MetaNewExpiry:     formatExpiry(plan.Patch.GuestAccessExpiry),
			models.MetaDurationHours: hours,
		}
		return []*models.AuditLogEntry{entry}

	case plan.OldRole == models.RoleGuest:
		entry := newEntry(models.AuditGuestAccessRevoked, actor, profile, reason)
		entry.OldRole = models.RolePtr(plan.OldRole)
		entry.NewRole = models.RolePtr(plan.NewRole)
		entry.Metadata = map[string]interface{}{
			models.MetaOldExpiry: formatExpiry(profile.GuestAccessExpiry),
		}
		return []*models.AuditLogEntry{entry}
	}
	return nil
}

func newEntry(eventType models.AuditEventType, actor models.Actor, target *models.UserProfile, reason string) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		Type:            eventType,
		ActorID:         actor.ID,
		ActorEmail:      actor.Email,
		TargetUserID:    target.ID,
		TargetUserEmail: target.Email,
		Reason:          strings.TrimSpace(reason),
	}
}

func newMutationResult(profile *models.UserProfile, recorded []*models.AuditLogEntry) *MutationResult {
	ids := make([]string, 0, len(recorded))
	for _, entry := range recorded {
		ids = append(ids, entry.ID)
	}
	return &MutationResult{Profile: profile, AuditIDs: ids}
}

// formatExpiry renders an expiry for audit metadata; nil stays nil
func formatExpiry(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
