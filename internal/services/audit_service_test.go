package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/access-control-service/internal/events"
	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories/memory"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
)

func seedAuditEntries(t *testing.T, store *memory.Store) {
	t.Helper()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AuditLog().Append(context.Background(), &models.AuditLogEntry{
			ID:           fmt.Sprintf("r%d", i),
			Type:         models.AuditRoleChange,
			ActorID:      "admin-1",
			TargetUserID: "u1",
			OldRole:      models.RolePtr(models.RoleStudent),
			NewRole:      models.RolePtr(models.RoleInstructor),
			CreatedAt:    testNow,
		}))
	}
	require.NoError(t, store.AuditLog().Append(context.Background(), &models.AuditLogEntry{
		ID:           "s0",
		Type:         models.AuditUserSuspended,
		ActorID:      "admin-2",
		TargetUserID: "u2",
		CreatedAt:    testNow,
	}))
}

func TestAuditService_History(t *testing.T) {
	store := memory.NewStore(testClock)
	seedAuditEntries(t, store)
	svc := NewAuditService(store, testLogger(), validator.New())
	ctx := context.Background()

	all, err := svc.History(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.Total)
	assert.Equal(t, defaultAuditPageSize, all.Limit)
	require.Len(t, all.Entries, 4)
	assert.Equal(t, "r0", all.Entries[0].ID)
	assert.Equal(t, "Changed role from student to instructor", all.Entries[0].Description)

	desc, err := svc.History(ctx, &AuditLogQuery{SortOrder: "desc", Limit: 1})
	require.NoError(t, err)
	require.Len(t, desc.Entries, 1)
	assert.Equal(t, "s0", desc.Entries[0].ID)

	byActor, err := svc.History(ctx, &AuditLogQuery{ActorID: "admin-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byActor.Total)

	_, err = svc.History(ctx, &AuditLogQuery{SortOrder: "sideways"})
	assert.ErrorIs(t, err, ErrValidationFailed)
	_, err = svc.History(ctx, &AuditLogQuery{Type: "NOT_A_TYPE"})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestAuditService_ByTargetAndType(t *testing.T) {
	store := memory.NewStore(testClock)
	seedAuditEntries(t, store)
	svc := NewAuditService(store, testLogger(), validator.New())
	ctx := context.Background()

	page, err := svc.ByTarget(ctx, "u1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "r1", page.Entries[0].ID)

	_, err = svc.ByTarget(ctx, "", 0, 0)
	assert.ErrorIs(t, err, ErrValidationFailed)

	suspensions, err := svc.ByType(ctx, models.AuditUserSuspended, 0, 0)
	require.NoError(t, err)
	require.Len(t, suspensions.Entries, 1)
	assert.Equal(t, "u2", suspensions.Entries[0].TargetUserID)

	assert.Equal(t, "Revoked guest access", svc.Describe(&models.AuditLogEntry{Type: models.AuditGuestAccessRevoked}))
}

func TestAuditService_Export(t *testing.T) {
	store := memory.NewStore(testClock)
	seedAuditEntries(t, store)
	svc := NewAuditService(store, testLogger(), validator.New())

	data, err := svc.Export(context.Background(), &AuditLogQuery{TargetUserID: "u1"})
	require.NoError(t, err)
	// xlsx files are zip archives
	require.Greater(t, len(data), 4)
	assert.Equal(t, []byte("PK"), data[:2])

	_, err = svc.Export(context.Background(), &AuditLogQuery{TargetUserEmail: "not-an-email"})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestServiceManager_Lifecycle(t *testing.T) {
	store := memory.NewStore(testClock, &models.UserProfile{ID: "u1", Role: models.RoleStudent})
	publisher := events.NewMockEventPublisher(nil)
	sm := NewServiceManager(store, publisher, testLogger(), validator.New(), ServiceManagerConfig{
		Access:                   ServiceConfig{Enabled: true},
		Audit:                    ServiceConfig{Enabled: true},
		GuestAccessDurationHours: 24,
		Clock:                    testClock,
	})
	ctx := context.Background()

	assert.Panics(t, func() { sm.Access() })
	assert.Error(t, sm.HealthCheck(ctx))

	require.NoError(t, sm.Initialize(ctx))
	require.NoError(t, sm.Initialize(ctx))
	require.NoError(t, sm.HealthCheck(ctx))

	result, err := sm.Access().ChangeRole(ctx, "u1", &ChangeRoleRequest{ToRole: "instructor"}, testActor)
	require.NoError(t, err)
	require.Len(t, result.AuditIDs, 1)

	history, err := sm.Audit().ByTarget(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, testNow, history.Entries[0].CreatedAt)
	assert.Len(t, publisher.GetPublishedEvents(), 1)

	require.NoError(t, sm.Shutdown(ctx))
	assert.Error(t, sm.HealthCheck(ctx))
}

func TestServiceManager_DisabledAndInvalidConfig(t *testing.T) {
	store := memory.NewStore(testClock)

	sm := NewServiceManager(store, nil, testLogger(), validator.New(), ServiceManagerConfig{Audit: ServiceConfig{Enabled: true}})
	require.NoError(t, sm.Initialize(context.Background()))
	assert.Panics(t, func() { sm.Access() })
	assert.NotPanics(t, func() { sm.Audit() })

	bad := NewServiceManager(store, nil, testLogger(), validator.New(), ServiceManagerConfig{GuestAccessDurationHours: -1})
	assert.Error(t, bad.Initialize(context.Background()))

	def := NewDefaultServiceManager(store, nil, testLogger(), validator.New(), 0)
	require.NoError(t, def.Initialize(context.Background()))
	assert.NotNil(t, def.Access())
	assert.NoError(t, def.Shutdown(context.Background()))
}
