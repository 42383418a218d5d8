package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/access-control-service/internal/cache"
	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
)

// AuditLogPostgreSQL only ever inserts; the table trigger installed by
// Migrate rejects updates and deletes
type AuditLogPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
	hooks        commitHooks
}

func NewAuditLogPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager, hooks commitHooks) *AuditLogPostgreSQL {
	if cacheManager == nil {
		cacheManager = cache.NewCacheManager(nil)
	}
	if hooks == nil {
		hooks = immediateHooks{}
	}
	return &AuditLogPostgreSQL{
		db:           db,
		cacheManager: cacheManager,
		hooks:        hooks,
	}
}

// Append inserts the entry. server_timestamp is always taken from the
// database default and read back through RETURNING.
func (a *AuditLogPostgreSQL) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	entry.ServerTimestamp = time.Time{}
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		return handleDBError(err, "append audit entry")
	}

	a.hooks.afterCommit(ctx, func(ctx context.Context) {
		cache.SafeInvalidatePattern(ctx, a.cacheManager.Audit, "list:*")
	})
	return nil
}

func (a *AuditLogPostgreSQL) GetByID(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	if err := a.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, handleDBError(err, "get audit entry")
	}
	return &entry, nil
}

type auditPage struct {
	Entries []*models.AuditLogEntry `json:"entries"`
	Total   int64                   `json:"total"`
}

func (a *AuditLogPostgreSQL) List(ctx context.Context, filters repositories.AuditLogFilters) ([]*models.AuditLogEntry, int64, error) {
	key, err := auditListCacheKey(filters)
	if err != nil {
		return nil, 0, err
	}

	var page auditPage
	err = a.cacheManager.Audit.CacheOrExecute(ctx, key, &page, cache.AuditCacheConfig.TTL, func() (interface{}, error) {
		entries, total, err := a.query(ctx, filters)
		if err != nil {
			return nil, err
		}
		return &auditPage{Entries: entries, Total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page.Entries, page.Total, nil
}

func (a *AuditLogPostgreSQL) query(ctx context.Context, filters repositories.AuditLogFilters) ([]*models.AuditLogEntry, int64, error) {
	query := a.applyAuditFilters(a.db.WithContext(ctx).Model(&models.AuditLogEntry{}), filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, handleDBError(err, "count audit entries")
	}

	direction := "ASC"
	if strings.EqualFold(filters.SortOrder, "desc") {
		direction = "DESC"
	}
	query = query.Order(fmt.Sprintf("server_timestamp %s, created_at %s, id %s", direction, direction, direction))
	query = applyPagination(query, filters.Limit, filters.Offset)

	var entries []*models.AuditLogEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, 0, handleDBError(err, "list audit entries")
	}

	return entries, total, nil
}

func (a *AuditLogPostgreSQL) applyAuditFilters(query *gorm.DB, filters repositories.AuditLogFilters) *gorm.DB {
	if filters.TargetUserID != nil {
		query = query.Where("target_user_id = ?", *filters.TargetUserID)
	}
	if filters.TargetUserEmail != nil {
		query = query.Where("LOWER(target_user_email) = LOWER(?)", *filters.TargetUserEmail)
	}
	if filters.ActorID != nil {
		query = query.Where("actor_id = ?", *filters.ActorID)
	}
	if filters.Type != nil {
		query = query.Where("type = ?", *filters.Type)
	}
	if filters.DateFrom != nil {
		query = query.Where("server_timestamp >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("server_timestamp <= ?", *filters.DateTo)
	}
	return query
}

func auditListCacheKey(filters repositories.AuditLogFilters) (string, error) {
	data, err := json.Marshal(filters)
	if err != nil {
		return "", fmt.Errorf("encode audit filters: %w", err)
	}
	return "list:" + string(data), nil
}
