package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
)

var fixedNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestProfileStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fixedClock)

	require.NoError(t, store.Profile().Create(ctx, &models.UserProfile{ID: "u1", Email: "u1@example.com", Role: models.RoleStudent}))
	assert.Error(t, store.Profile().Create(ctx, &models.UserProfile{ID: "u1"}))
	assert.Error(t, store.Profile().Create(ctx, &models.UserProfile{ID: " "}))

	got, err := store.Profile().GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, fixedNow, got.CreatedAt)

	// returned snapshots are copies
	got.Role = models.RoleAdmin
	again, _ := store.Profile().GetByID(ctx, "u1")
	assert.Equal(t, models.RoleStudent, again.Role)

	var patch models.ProfilePatch
	patch.SetInstitution("inst_1")
	updated, err := store.Profile().Update(ctx, "u1", &patch)
	require.NoError(t, err)
	assert.Equal(t, "inst_1", *updated.InstitutionID)

	_, err = store.Profile().Update(ctx, "missing", &patch)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, store.Profile().Delete(ctx, "u1"))
	_, err = store.Profile().GetByID(ctx, "u1")
	assert.True(t, repositories.IsNotFoundError(err))
	assert.ErrorIs(t, store.Profile().Delete(ctx, "u1"), repositories.ErrNotFound)
}

func TestProfileStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fixedClock,
		&models.UserProfile{ID: "c", Role: models.RoleStudent},
		&models.UserProfile{ID: "a", Role: models.RoleGuest, InstitutionID: models.StringPtr("inst_1")},
		&models.UserProfile{ID: "b", Role: models.RoleStudent, Suspended: true},
	)

	all, total, err := store.Profile().List(ctx, repositories.ProfileFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "a", all[0].ID)

	role := models.RoleStudent
	students, total, err := store.Profile().List(ctx, repositories.ProfileFilters{Role: &role, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, students, 1)
	assert.Equal(t, "c", students[0].ID)

	inst := "inst_1"
	scoped, _, _ := store.Profile().List(ctx, repositories.ProfileFilters{InstitutionID: &inst})
	assert.Len(t, scoped, 1)

	suspended := true
	blocked, _, _ := store.Profile().List(ctx, repositories.ProfileFilters{Suspended: &suspended})
	require.Len(t, blocked, 1)
	assert.Equal(t, "b", blocked[0].ID)
}

func TestAuditStore_AppendOnlyOrdering(t *testing.T) {
	ctx := context.Background()
	// a frozen clock still yields strictly increasing server timestamps
	store := NewStore(fixedClock)

	const n = 5
	for i := 0; i < n; i++ {
		entry := &models.AuditLogEntry{
			ID:           fmt.Sprintf("e%d", n-i),
			Type:         models.AuditRoleChange,
			ActorID:      "admin",
			TargetUserID: "u1",
			OldRole:      models.RolePtr(models.RoleStudent),
			NewRole:      models.RolePtr(models.RoleInstructor),
			CreatedAt:    fixedNow,
		}
		require.NoError(t, store.AuditLog().Append(ctx, entry))
		assert.False(t, entry.ServerTimestamp.IsZero())
	}

	entries, total, err := store.AuditLog().List(ctx, repositories.AuditLogFilters{TargetUserID: models.StringPtr("u1")})
	require.NoError(t, err)
	assert.Equal(t, int64(n), total)
	require.Len(t, entries, n)
	for i := 1; i < n; i++ {
		assert.True(t, entries[i-1].ServerTimestamp.Before(entries[i].ServerTimestamp))
	}
	assert.Equal(t, "e5", entries[0].ID)
	assert.Equal(t, "e1", entries[n-1].ID)

	desc, _, err := store.AuditLog().List(ctx, repositories.AuditLogFilters{SortOrder: "desc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "e1", desc[0].ID)

	// duplicate ids are refused
	assert.Error(t, store.AuditLog().Append(ctx, &models.AuditLogEntry{ID: "e1"}))

	// stored entries do not alias the caller's value
	got, err := store.AuditLog().GetByID(ctx, "e3")
	require.NoError(t, err)
	got.Reason = "edited"
	again, _ := store.AuditLog().GetByID(ctx, "e3")
	assert.Empty(t, again.Reason)

	_, err = store.AuditLog().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestAuditStore_EntriesAreIsolatedFromCallers(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fixedClock)

	entry := &models.AuditLogEntry{
		ID:             "e1",
		Type:           models.AuditPermissionChange,
		ActorID:        "a1",
		TargetUserID:   "u1",
		NewRole:        models.RolePtr(models.RoleGuest),
		NewPermissions: models.PermissionMap{models.PermViewAssignedCourses: true},
		Metadata:       map[string]interface{}{"k": "v"},
	}
	require.NoError(t, store.AuditLog().Append(ctx, entry))

	// writer keeps mutating its own value after the append
	entry.Metadata["k"] = "changed"
	*entry.NewRole = models.RoleStudent
	entry.NewPermissions[models.PermViewAssignedCourses] = false

	listed, _, err := store.AuditLog().List(ctx, repositories.AuditLogFilters{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "v", listed[0].Metadata["k"])
	assert.Equal(t, models.RoleGuest, *listed[0].NewRole)
	assert.True(t, listed[0].NewPermissions[models.PermViewAssignedCourses])

	// readers cannot edit history through returned values
	listed[0].NewPermissions[models.PermViewAssignedCourses] = false
	listed[0].Metadata["k"] = "changed"
	*listed[0].NewRole = models.RoleAdmin

	stored, err := store.AuditLog().GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, stored.NewPermissions[models.PermViewAssignedCourses])
	assert.Equal(t, "v", stored.Metadata["k"])
	assert.Equal(t, models.RoleGuest, *stored.NewRole)

	stored.Metadata["k"] = "changed"
	again, err := store.AuditLog().GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestAuditStore_Filters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fixedClock)

	require.NoError(t, store.AuditLog().Append(ctx, &models.AuditLogEntry{ID: "1", Type: models.AuditUserSuspended, ActorID: "a1", TargetUserID: "u1", TargetUserEmail: "U1@Example.com"}))
	require.NoError(t, store.AuditLog().Append(ctx, &models.AuditLogEntry{ID: "2", Type: models.AuditRoleChange, ActorID: "a2", TargetUserID: "u2"}))

	eventType := models.AuditUserSuspended
	byType, _, _ := store.AuditLog().List(ctx, repositories.AuditLogFilters{Type: &eventType})
	require.Len(t, byType, 1)
	assert.Equal(t, "1", byType[0].ID)

	byEmail, _, _ := store.AuditLog().List(ctx, repositories.AuditLogFilters{TargetUserEmail: models.StringPtr("u1@example.com")})
	assert.Len(t, byEmail, 1)

	byActor, _, _ := store.AuditLog().List(ctx, repositories.AuditLogFilters{ActorID: models.StringPtr("a2")})
	assert.Len(t, byActor, 1)

	later := fixedNow.Add(time.Hour)
	none, total, _ := store.AuditLog().List(ctx, repositories.AuditLogFilters{DateFrom: &later})
	assert.Empty(t, none)
	assert.Equal(t, int64(0), total)

	past, _, _ := store.AuditLog().List(ctx, repositories.AuditLogFilters{Offset: 10})
	assert.Empty(t, past)
}

func TestProfileStore_Subscribe(t *testing.T) {
	store := NewStore(fixedClock, &models.UserProfile{ID: "u1", Role: models.RoleStudent})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Profile().Subscribe(ctx, "u1")
	require.NoError(t, err)

	initial := <-ch
	require.NotNil(t, initial)
	assert.Equal(t, models.RoleStudent, initial.Role)

	var patch models.ProfilePatch
	patch.SetSuspended(true)
	_, err = store.Profile().Update(context.Background(), "u1", &patch)
	require.NoError(t, err)

	changed := <-ch
	require.NotNil(t, changed)
	assert.True(t, changed.Suspended)

	require.NoError(t, store.Profile().Delete(context.Background(), "u1"))
	assert.Nil(t, <-ch)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestProfileStore_SubscribeSlowConsumerKeepsLatest(t *testing.T) {
	store := NewStore(fixedClock, &models.UserProfile{ID: "u1", Role: models.RoleStudent})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Profile().Subscribe(ctx, "u1")
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer*2; i++ {
		var patch models.ProfilePatch
		patch.SetSuspended(i%2 == 0)
		_, err := store.Profile().Update(context.Background(), "u1", &patch)
		require.NoError(t, err)
	}

	var last *models.UserProfile
	for len(ch) > 0 {
		last = <-ch
	}
	require.NotNil(t, last)
	// the final update set suspended=false
	assert.False(t, last.Suspended)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	store := NewStore(nil, &models.UserProfile{ID: "u1", Role: models.RoleStudent})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var patch models.ProfilePatch
			patch.SetInstitution(fmt.Sprintf("inst_%d", i))
			_, err := store.Profile().Update(context.Background(), "u1", &patch)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Profile().GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, got.InstitutionID)
}

func TestStore_Close(t *testing.T) {
	store := NewStore(fixedClock)
	ch, err := store.Profile().Subscribe(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, <-ch)

	require.NoError(t, store.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.False(t, store.SupportsTransactions())
}
