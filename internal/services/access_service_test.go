package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/access-control-service/internal/audit"
	"github.com/SAP-F-2025/access-control-service/internal/events"
	"github.com/SAP-F-2025/access-control-service/internal/guestaccess"
	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
	"github.com/SAP-F-2025/access-control-service/internal/repositories/memory"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
)

var (
	testNow   = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	testActor = models.Actor{ID: "admin-1", Email: "admin@example.com"}
)

func testClock() time.Time { return testNow }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store     *memory.Store
	publisher *events.MockEventPublisher
	access    AccessService
}

func newTestEnv(t *testing.T, seed ...*models.UserProfile) *testEnv {
	t.Helper()
	store := memory.NewStore(testClock, seed...)
	return newTestEnvWithRepo(store, store)
}

func newTestEnvWithRepo(store *memory.Store, repo repositories.Repository) *testEnv {
	publisher := events.NewMockEventPublisher(nil)
	writer := audit.NewWriter(repo.AuditLog(), publisher, testLogger(), audit.WithClock(testClock))
	calculator := guestaccess.NewCalculator(48, testClock)
	return &testEnv{
		store:     store,
		publisher: publisher,
		access:    NewAccessService(repo, testLogger(), validator.New(), writer, calculator),
	}
}

func (e *testEnv) profile(t *testing.T, id string) *models.UserProfile {
	t.Helper()
	profile, err := e.store.Profile().GetByID(context.Background(), id)
	require.NoError(t, err)
	return profile
}

func (e *testEnv) auditEntries(t *testing.T, targetID string) []*models.AuditLogEntry {
	t.Helper()
	entries, _, err := e.store.AuditLog().List(context.Background(), repositories.AuditLogFilters{TargetUserID: models.StringPtr(targetID)})
	require.NoError(t, err)
	return entries
}

func auditTypes(entries []*models.AuditLogEntry) []models.AuditEventType {
	out := make([]models.AuditEventType, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Type)
	}
	return out
}

// failingAuditRepo wraps a store whose audit appends fail
type failingAuditRepo struct {
	*memory.Store
	err error
}

func (r *failingAuditRepo) AuditLog() repositories.AuditLogRepository {
	return failingAuditLog{AuditLogRepository: r.Store.AuditLog(), err: r.err}
}

func (r *failingAuditRepo) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}

type failingAuditLog struct {
	repositories.AuditLogRepository
	err error
}

func (l failingAuditLog) Append(context.Context, *models.AuditLogEntry) error { return l.err }

// rollbackRepo runs transactions against a scratch copy of the store whose
// audit appends fail, discarding the copy when fn returns an error
type rollbackRepo struct {
	*memory.Store
	err error
}

func (r *rollbackRepo) SupportsTransactions() bool { return true }

func (r *rollbackRepo) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	profiles, _, err := r.Store.Profile().List(ctx, repositories.ProfileFilters{})
	if err != nil {
		return err
	}
	scratch := memory.NewStore(testClock, profiles...)
	if err := fn(&failingAuditRepo{Store: scratch, err: r.err}); err != nil {
		return err
	}
	return fn(r.Store)
}

// failingProfileRepo wraps a store whose profile updates fail
type failingProfileRepo struct {
	*memory.Store
}

func (r *failingProfileRepo) Profile() repositories.ProfileRepository {
	return failingProfiles{ProfileRepository: r.Store.Profile()}
}

func (r *failingProfileRepo) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}

type failingProfiles struct {
	repositories.ProfileRepository
}

func (failingProfiles) Update(context.Context, string, *models.ProfilePatch) (*models.UserProfile, error) {
	return nil, errors.New("write conflict")
}

func (failingProfiles) Delete(context.Context, string) error {
	return errors.New("write conflict")
}

func TestChangeRole_StudentToPartnerInstructor(t *testing.T) {
	env := newTestEnv(t, &models.UserProfile{ID: "u1", Email: "u1@example.com", Role: models.RoleStudent, InstitutionID: models.StringPtr("inst_1")})

	result, err := env.access.ChangeRole(context.Background(), "u1", &ChangeRoleRequest{ToRole: "partner_instructor"}, testActor)
	require.NoError(t, err)
	require.Len(t, result.AuditIDs, 2)

	stored := env.profile(t, "u1")
	assert.Equal(t, models.RolePartnerInstructor, stored.Role)
	assert.True(t, stored.Permissions.Equal(models.PartnerInstructorBootstrap()))
	assert.Equal(t, "inst_1", *stored.InstitutionID)
	assert.Equal(t, stored.Role, result.Profile.Role)

	entries := env.auditEntries(t, "u1")
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []models.AuditEventType{models.AuditRoleChange, models.AuditPermissionChange}, auditTypes(entries))
	for _, entry := range entries {
		assert.Equal(t, testActor.ID, entry.ActorID)
		assert.Equal(t, "u1@example.com", entry.TargetUserEmail)
		assert.False(t, entry.ServerTimestamp.IsZero())
		if entry.Type == models.AuditRoleChange {
			assert.Equal(t, models.RoleStudent, *entry.OldRole)
			assert.Equal(t, models.RolePartnerInstructor, *entry.NewRole)
		} else {
			assert.Nil(t, entry.OldPermissions)
			assert.True(t, entry.NewPermissions.Equal(models.PartnerInstructorBootstrap()))
		}
	}
	assert.Len(t, env.publisher.GetPublishedEvents(), 2)
}

func TestExtendGuestAccess_FromLapsedExpiry(t *testing.T) {
	lapsed := testNow.Add(-6 * time.Hour)
	env := newTestEnv(t, &models.UserProfile{
		ID:                "g1",
		Role:              models.RoleGuest,
		InstitutionID:     models.StringPtr("inst_1"),
		Permissions:       models.GuestBootstrap(),
		GuestAccessExpiry: &lapsed,
	})

	result, err := env.access.ExtendGuestAccess(context.Background(), "g1", &GuestAccessRequest{}, testActor)
	require.NoError(t, err)
	require.Len(t, result.AuditIDs, 1)

	stored := env.profile(t, "g1")
	require.NotNil(t, stored.GuestAccessExpiry)
	assert.Equal(t, testNow.Add(48*time.Hour), *stored.GuestAccessExpiry)

	entries := env.auditEntries(t, "g1")
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, models.AuditGuestAccessExtended, entry.Type)
	assert.Equal(t, lapsed.Format(time.RFC3339Nano), entry.Metadata[models.MetaOldExpiry])
	assert.Equal(t, testNow.Add(48*time.Hour).Format(time.RFC3339Nano), entry.Metadata[models.MetaNewExpiry])
	assert.Equal(t, 48, entry.Metadata[models.MetaDurationHours])
}

func TestExtendGuestAccess_CustomDurationAndNonGuest(t *testing.T) {
	expiry := testNow.Add(time.Hour)
	env := newTestEnv(t,
		&models.UserProfile{ID: "g1", Role: models.RoleGuest, InstitutionID: models.StringPtr("inst_1"), GuestAccessExpiry: &expiry},
		&models.UserProfile{ID: "s1", Role: models.RoleStudent},
	)

	_, err := env.access.ExtendGuestAccess(context.Background(), "g1", &GuestAccessRequest{DurationHours: 12}, testActor)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(12*time.Hour), *env.profile(t, "g1").GuestAccessExpiry)

	_, err = env.access.ExtendGuestAccess(context.Background(), "s1", &GuestAccessRequest{}, testActor)
	assert.ErrorIs(t, err, ErrNotGuest)
	assert.Empty(t, env.auditEntries(t, "s1"))
}

func TestGrantGuestAccess(t *testing.T) {
	env := newTestEnv(t,
		&models.UserProfile{ID: "u1", Role: models.RoleStudent},
		&models.UserProfile{ID: "u2", Role: models.RoleInstructor},
		&models.UserProfile{ID: "g1", Role: models.RoleGuest, InstitutionID: models.StringPtr("inst_1")},
	)

	result, err := env.access.GrantGuestAccess(context.Background(), "u1", &GuestAccessRequest{DurationHours: 24, InstitutionID: "inst_9"}, testActor)
	require.NoError(t, err)
	assert.Len(t, result.AuditIDs, 4)

	stored := env.profile(t, "u1")
	assert.Equal(t, models.RoleGuest, stored.Role)
	assert.Equal(t, "inst_9", *stored.InstitutionID)
	assert.Equal(t, testNow.Add(24*time.Hour), *stored.GuestAccessExpiry)
	assert.True(t, stored.Permissions.Equal(models.GuestBootstrap()))
	assert.ElementsMatch(t, []models.AuditEventType{
		models.AuditRoleChange,
		models.AuditPermissionChange,
		models.AuditInstitutionAssigned,
		models.AuditGuestAccessCreated,
	}, auditTypes(env.auditEntries(t, "u1")))

	_, err = env.access.GrantGuestAccess(context.Background(), "u2", &GuestAccessRequest{}, testActor)
	assert.ErrorIs(t, err, ErrMissingInstitution)
	assert.Equal(t, models.RoleInstructor, env.profile(t, "u2").Role)
	assert.Empty(t, env.auditEntries(t, "u2"))

	_, err = env.access.GrantGuestAccess(context.Background(), "g1", &GuestAccessRequest{}, testActor)
	assert.ErrorIs(t, err, ErrAlreadyGuest)
}

func TestRevokeGuestAccess(t *testing.T) {
	expiry := testNow.Add(time.Hour)
	env := newTestEnv(t, &models.UserProfile{
		ID:                "g1",
		Role:              models.RoleGuest,
		InstitutionID:     models.StringPtr("inst_1"),
		Permissions:       models.GuestBootstrap(),
		GuestAccessExpiry: &expiry,
	})

	_, err := env.access.RevokeGuestAccess(context.Background(), "g1", &ReasonRequest{Reason: "pilot ended"}, testActor)
	require.NoError(t, err)

	stored := env.profile(t, "g1")
	assert.Equal(t, models.RoleStudent, stored.Role)
	assert.Nil(t, stored.Permissions)
	assert.Nil(t, stored.GuestAccessExpiry)
	assert.Equal(t, "inst_1", *stored.InstitutionID)

	entries := env.auditEntries(t, "g1")
	assert.ElementsMatch(t, []models.AuditEventType{models.AuditRoleChange, models.AuditGuestAccessRevoked}, auditTypes(entries))
	for _, entry := range entries {
		assert.Equal(t, "pilot ended", entry.Reason)
	}

	_, err = env.access.RevokeGuestAccess(context.Background(), "g1", &ReasonRequest{}, testActor)
	assert.ErrorIs(t, err, ErrNotGuest)
}

func TestChangeRole_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     *ChangeRoleRequest
		wantErr error
	}{
		{name: "unknown role", req: &ChangeRoleRequest{ToRole: "superuser"}, wantErr: ErrValidationFailed},
		{name: "into admin", req: &ChangeRoleRequest{ToRole: "admin"}, wantErr: ErrInvalidTransition},
		{name: "guest without institution", req: &ChangeRoleRequest{ToRole: "guest"}, wantErr: ErrMissingInstitution},
		{name: "stale from role", req: &ChangeRoleRequest{FromRole: "instructor", ToRole: "guest"}, wantErr: ErrRoleMismatch},
		{name: "same role", req: &ChangeRoleRequest{ToRole: "student"}, wantErr: ErrSameRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &models.UserProfile{ID: "u1", Role: models.RoleStudent})

			result, err := env.access.ChangeRole(context.Background(), "u1", tt.req, testActor)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, result)
			assert.Equal(t, models.RoleStudent, env.profile(t, "u1").Role)
			assert.Empty(t, env.auditEntries(t, "u1"))
		})
	}
}

func TestChangeRole_ProfileNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.access.ChangeRole(context.Background(), "ghost", &ChangeRoleRequest{ToRole: "student"}, testActor)
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.access.GetProfile(context.Background(), " ")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestUpdatePermissions(t *testing.T) {
	env := newTestEnv(t,
		&models.UserProfile{ID: "p1", Role: models.RolePartnerInstructor, Permissions: models.PartnerInstructorBootstrap()},
		&models.UserProfile{ID: "s1", Role: models.RoleStudent},
	)

	req := &UpdatePermissionsRequest{Permissions: map[string]bool{"view_assigned_courses": true}}
	_, err := env.access.UpdatePermissions(context.Background(), "p1", req, testActor)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionMap{models.PermViewAssignedCourses: true}, env.profile(t, "p1").Permissions)

	entries := env.auditEntries(t, "p1")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].OldPermissions.Equal(models.PartnerInstructorBootstrap()))

	_, err = env.access.UpdatePermissions(context.Background(), "p1", req, testActor)
	assert.ErrorIs(t, err, ErrNoChange)

	_, err = env.access.UpdatePermissions(context.Background(), "p1", &UpdatePermissionsRequest{Permissions: map[string]bool{"fly_planes": true}}, testActor)
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.access.UpdatePermissions(context.Background(), "s1", req, testActor)
	assert.ErrorIs(t, err, ErrPermissionsNotSupported)
	assert.Len(t, env.auditEntries(t, "p1"), 1)
}

func TestSetSuspended(t *testing.T) {
	env := newTestEnv(t,
		&models.UserProfile{ID: "u1", Role: models.RoleStudent},
		&models.UserProfile{ID: "a1", Role: models.RoleAdmin},
	)

	_, err := env.access.SetSuspended(context.Background(), "u1", &SetSuspendedRequest{Suspended: models.BoolPtr(true)}, testActor)
	require.NoError(t, err)
	assert.True(t, env.profile(t, "u1").Suspended)

	_, err = env.access.SetSuspended(context.Background(), "u1", &SetSuspendedRequest{Suspended: models.BoolPtr(true)}, testActor)
	assert.ErrorIs(t, err, ErrNoChange)

	_, err = env.access.SetSuspended(context.Background(), "u1", &SetSuspendedRequest{Suspended: models.BoolPtr(false)}, testActor)
	require.NoError(t, err)
	assert.Equal(t, []models.AuditEventType{models.AuditUserSuspended, models.AuditUserUnsuspended}, auditTypes(env.auditEntries(t, "u1")))

	_, err = env.access.SetSuspended(context.Background(), "u1", &SetSuspendedRequest{}, testActor)
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.access.SetSuspended(context.Background(), "a1", &SetSuspendedRequest{Suspended: models.BoolPtr(true)}, testActor)
	assert.ErrorIs(t, err, ErrAdminImmutable)
}

func TestInstitutionAssignment(t *testing.T) {
	env := newTestEnv(t,
		&models.UserProfile{ID: "u1", Role: models.RoleInstructor},
		&models.UserProfile{ID: "g1", Role: models.RoleGuest, InstitutionID: models.StringPtr("inst_1")},
	)
	ctx := context.Background()

	_, err := env.access.AssignInstitution(ctx, "u1", &AssignInstitutionRequest{InstitutionID: "inst_1"}, testActor)
	require.NoError(t, err)
	_, err = env.access.AssignInstitution(ctx, "u1", &AssignInstitutionRequest{InstitutionID: "inst_1"}, testActor)
	assert.ErrorIs(t, err, ErrNoChange)
	_, err = env.access.AssignInstitution(ctx, "u1", &AssignInstitutionRequest{InstitutionID: "inst_2"}, testActor)
	require.NoError(t, err)

	_, err = env.access.RemoveInstitution(ctx, "u1", &ReasonRequest{}, testActor)
	require.NoError(t, err)
	assert.Nil(t, env.profile(t, "u1").InstitutionID)

	_, err = env.access.RemoveInstitution(ctx, "u1", &ReasonRequest{}, testActor)
	assert.ErrorIs(t, err, ErrNoChange)

	entries := env.auditEntries(t, "u1")
	require.Len(t, entries, 3)
	assert.Equal(t, "inst_1", *entries[1].PreviousInstitutionID)
	assert.Equal(t, "inst_2", *entries[2].PreviousInstitutionID)

	_, err = env.access.RemoveInstitution(ctx, "g1", &ReasonRequest{}, testActor)
	assert.ErrorIs(t, err, ErrMissingInstitution)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t,
		&models.UserProfile{ID: "u1", Role: models.RoleStudent},
		&models.UserProfile{ID: "a1", Role: models.RoleAdmin},
	)

	result, err := env.access.DeleteUser(context.Background(), "u1", &ReasonRequest{Reason: "left"}, testActor)
	require.NoError(t, err)
	assert.Nil(t, result.Profile)
	require.Len(t, result.AuditIDs, 1)

	_, err = env.store.Profile().GetByID(context.Background(), "u1")
	assert.True(t, repositories.IsNotFoundError(err))

	entries := env.auditEntries(t, "u1")
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditUserDeleted, entries[0].Type)
	assert.Equal(t, "student", entries[0].Metadata[models.MetaDeletedRole])

	_, err = env.access.DeleteUser(context.Background(), "a1", &ReasonRequest{}, testActor)
	assert.ErrorIs(t, err, ErrAdminImmutable)
}

func TestApply_AuditFailureLeavesProfileChange(t *testing.T) {
	store := memory.NewStore(testClock, &models.UserProfile{ID: "u1", Role: models.RoleStudent})
	env := newTestEnvWithRepo(store, &failingAuditRepo{Store: store, err: errors.New("audit store offline")})

	result, err := env.access.ChangeRole(context.Background(), "u1", &ChangeRoleRequest{ToRole: "instructor"}, testActor)
	require.ErrorIs(t, err, ErrAuditWriteFailed)
	assert.Contains(t, err.Error(), "audit store offline")

	require.NotNil(t, result)
	assert.Equal(t, models.RoleInstructor, result.Profile.Role)
	assert.Empty(t, result.AuditIDs)
	assert.Equal(t, models.RoleInstructor, env.profile(t, "u1").Role)
	assert.Empty(t, env.auditEntries(t, "u1"))
	assert.Empty(t, env.publisher.GetPublishedEvents())
}

func TestApply_TransactionalAuditFailureRollsBack(t *testing.T) {
	store := memory.NewStore(testClock, &models.UserProfile{ID: "u1", Role: models.RoleStudent})
	env := newTestEnvWithRepo(store, &rollbackRepo{Store: store, err: errors.New("audit store offline")})

	result, err := env.access.ChangeRole(context.Background(), "u1", &ChangeRoleRequest{ToRole: "instructor"}, testActor)
	require.ErrorIs(t, err, ErrMutationRolledBack)
	assert.NotErrorIs(t, err, ErrAuditWriteFailed)
	assert.Contains(t, err.Error(), "audit store offline")
	assert.Nil(t, result)

	assert.Equal(t, models.RoleStudent, env.profile(t, "u1").Role)
	assert.Empty(t, env.auditEntries(t, "u1"))
	assert.Empty(t, env.publisher.GetPublishedEvents())
}

func TestApply_ProfileWriteFailureWritesNoAudit(t *testing.T) {
	store := memory.NewStore(testClock, &models.UserProfile{ID: "u1", Role: models.RoleStudent})
	env := newTestEnvWithRepo(store, &failingProfileRepo{Store: store})

	result, err := env.access.ChangeRole(context.Background(), "u1", &ChangeRoleRequest{ToRole: "instructor"}, testActor)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuditWriteFailed)
	assert.Nil(t, result)
	assert.Equal(t, models.RoleStudent, env.profile(t, "u1").Role)
	assert.Empty(t, env.auditEntries(t, "u1"))

	_, err = env.access.DeleteUser(context.Background(), "u1", &ReasonRequest{}, testActor)
	require.Error(t, err)
	assert.Empty(t, env.auditEntries(t, "u1"))
}

func TestGetAccessSummary(t *testing.T) {
	expired := testNow.Add(-time.Minute)
	active := testNow.Add(3*time.Hour + 5*time.Minute)
	env := newTestEnv(t,
		&models.UserProfile{ID: "g1", Role: models.RoleGuest, Permissions: models.GuestBootstrap(), GuestAccessExpiry: &expired},
		&models.UserProfile{ID: "g2", Role: models.RoleGuest, Permissions: models.GuestBootstrap(), GuestAccessExpiry: &active},
		&models.UserProfile{ID: "i1", Role: models.RoleInstructor},
	)
	ctx := context.Background()

	summary, err := env.access.GetAccessSummary(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, summary.GuestAccessExpired)
	assert.Empty(t, summary.Permissions)
	assert.Equal(t, "/login", summary.HomeRoute)
	assert.Equal(t, "Expired", summary.TimeRemaining)

	summary, err = env.access.GetAccessSummary(ctx, "g2")
	require.NoError(t, err)
	assert.False(t, summary.GuestAccessExpired)
	assert.Equal(t, "/guest/dashboard", summary.HomeRoute)
	assert.Equal(t, "3h 5m", summary.TimeRemaining)
	assert.Len(t, summary.Permissions, len(models.GuestBootstrap()))

	summary, err = env.access.GetAccessSummary(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPermissionsFor(models.RoleInstructor), summary.Permissions)
	assert.Empty(t, summary.TimeRemaining)

	check, err := env.access.CheckRoute(ctx, "i1", "/instructor/courses")
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	check, err = env.access.CheckRoute(ctx, "i1", "/admin")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
}

// noPushRepo wraps a store whose profiles cannot be subscribed to
type noPushRepo struct {
	*memory.Store
}

func (r *noPushRepo) Profile() repositories.ProfileRepository {
	return noPushProfiles{ProfileRepository: r.Store.Profile()}
}

type noPushProfiles struct {
	repositories.ProfileRepository
}

func (noPushProfiles) Subscribe(context.Context, string) (<-chan *models.UserProfile, error) {
	return nil, repositories.ErrSubscriptionUnavailable
}

func nextSummary(t *testing.T, summaries <-chan *AccessSummary) *AccessSummary {
	t.Helper()
	select {
	case summary := <-summaries:
		return summary
	case <-time.After(time.Second):
		t.Fatal("no access summary within a second")
		return nil
	}
}

func TestWatchAccess_FollowsProfileUntilDeleted(t *testing.T) {
	env := newTestEnv(t,
		&models.UserProfile{ID: "u1", Email: "u1@example.com", Role: models.RoleStudent, InstitutionID: models.StringPtr("inst_1")})

	summaries := make(chan *AccessSummary, 4)
	done := make(chan error, 1)
	go func() {
		done <- env.access.WatchAccess(context.Background(), "u1", func(summary *AccessSummary) {
			summaries <- summary
		})
	}()

	first := nextSummary(t, summaries)
	require.NotNil(t, first)
	assert.Equal(t, models.RoleStudent, first.Role)
	assert.Equal(t, "/student/dashboard", first.HomeRoute)

	_, err := env.access.GrantGuestAccess(context.Background(), "u1", &GuestAccessRequest{}, testActor)
	require.NoError(t, err)
	guest := nextSummary(t, summaries)
	require.NotNil(t, guest)
	assert.Equal(t, models.RoleGuest, guest.Role)
	assert.Equal(t, "2d 0h", guest.TimeRemaining)
	assert.Contains(t, guest.Permissions, models.PermViewInstitutionCourses)

	_, err = env.access.DeleteUser(context.Background(), "u1", &ReasonRequest{}, testActor)
	require.NoError(t, err)
	assert.Nil(t, nextSummary(t, summaries))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after deletion")
	}
}

func TestWatchAccess_Errors(t *testing.T) {
	store := memory.NewStore(testClock, &models.UserProfile{ID: "u1", Role: models.RoleStudent})
	env := newTestEnvWithRepo(store, &noPushRepo{Store: store})
	send := func(*AccessSummary) { t.Fatal("nothing should be sent") }

	err := env.access.WatchAccess(context.Background(), "u1", send)
	assert.ErrorIs(t, err, ErrLiveUpdatesUnavailable)

	err = env.access.WatchAccess(context.Background(), " ", send)
	assert.ErrorIs(t, err, ErrValidationFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = newTestEnv(t).access.WatchAccess(ctx, "u1", func(*AccessSummary) {})
	assert.ErrorIs(t, err, context.Canceled)
}
