package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/access-control-service/internal/cache"
	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
)

type ProfilePostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
	notifier     *ProfileNotifier
	hooks        commitHooks
	inTx         bool
}

func NewProfilePostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager, notifier *ProfileNotifier, hooks commitHooks) *ProfilePostgreSQL {
	if cacheManager == nil {
		cacheManager = cache.NewCacheManager(nil)
	}
	if hooks == nil {
		hooks = immediateHooks{}
	}
	_, deferred := hooks.(*deferredHooks)
	return &ProfilePostgreSQL{
		db:           db,
		cacheManager: cacheManager,
		notifier:     notifier,
		hooks:        hooks,
		inTx:         deferred,
	}
}

func profileCacheKey(id string) string {
	return "id:" + id
}

func (p *ProfilePostgreSQL) Create(ctx context.Context, profile *models.UserProfile) error {
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if err := p.db.WithContext(ctx).Create(profile).Error; err != nil {
		return handleDBError(err, "create profile")
	}

	created := profile.Clone()
	p.hooks.afterCommit(ctx, func(ctx context.Context) {
		p.changed(ctx, created.ID, created)
	})
	return nil
}

// GetByID reads through the profile cache outside transactions
func (p *ProfilePostgreSQL) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	if p.inTx {
		return p.load(ctx, id)
	}

	var profile models.UserProfile
	err := p.cacheManager.Profile.CacheOrExecute(ctx, profileCacheKey(id), &profile, cache.ProfileCacheConfig.TTL, func() (interface{}, error) {
		return p.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (p *ProfilePostgreSQL) load(ctx context.Context, id string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, handleDBError(err, "get profile")
	}
	return &profile, nil
}

// Update applies the patch in a single UPDATE and returns the stored row
func (p *ProfilePostgreSQL) Update(ctx context.Context, id string, patch *models.ProfilePatch) (*models.UserProfile, error) {
	columns := patch.Columns()
	if len(columns) == 0 {
		return nil, fmt.Errorf("update profile failed: empty patch")
	}

	result := p.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("id = ?", id).
		Updates(columns)
	if result.Error != nil {
		return nil, handleDBError(result.Error, "update profile")
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("update profile failed: %w", repositories.ErrNotFound)
	}

	updated, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}

	snapshot := updated.Clone()
	p.hooks.afterCommit(ctx, func(ctx context.Context) {
		p.changed(ctx, id, snapshot)
	})
	return updated, nil
}

func (p *ProfilePostgreSQL) Delete(ctx context.Context, id string) error {
	result := p.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UserProfile{})
	if result.Error != nil {
		return handleDBError(result.Error, "delete profile")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("delete profile failed: %w", repositories.ErrNotFound)
	}

	p.hooks.afterCommit(ctx, func(ctx context.Context) {
		p.changed(ctx, id, nil)
	})
	return nil
}

func (p *ProfilePostgreSQL) List(ctx context.Context, filters repositories.ProfileFilters) ([]*models.UserProfile, int64, error) {
	query := p.db.WithContext(ctx).Model(&models.UserProfile{})

	if filters.Role != nil {
		query = query.Where("role = ?", *filters.Role)
	}
	if filters.InstitutionID != nil {
		query = query.Where("institution_id = ?", *filters.InstitutionID)
	}
	if filters.Suspended != nil {
		query = query.Where("suspended = ?", *filters.Suspended)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, handleDBError(err, "count profiles")
	}

	var profiles []*models.UserProfile
	query = applyPagination(query.Order("id ASC"), filters.Limit, filters.Offset)
	if err := query.Find(&profiles).Error; err != nil {
		return nil, 0, handleDBError(err, "list profiles")
	}

	return profiles, total, nil
}

// Subscribe streams profile changes published by any replica. The redis
// subscription is confirmed before the snapshot is read so no change is missed.
func (p *ProfilePostgreSQL) Subscribe(ctx context.Context, id string) (<-chan *models.UserProfile, error) {
	if p.notifier == nil {
		return nil, repositories.ErrSubscriptionUnavailable
	}

	pubsub, err := p.notifier.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}

	initial, err := p.load(ctx, id)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan *models.UserProfile, 1)
	out <- initial

	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				profile, err := decodeProfileChange(msg.Payload)
				if err != nil {
					slog.WarnContext(ctx, "Dropping malformed profile change", "error", err, "profile_id", id)
					continue
				}
				select {
				case out <- profile:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// changed invalidates cached state and notifies subscribers
func (p *ProfilePostgreSQL) changed(ctx context.Context, id string, profile *models.UserProfile) {
	cache.InvalidateProfileCache(ctx, p.cacheManager, id)
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, id, profile); err != nil {
		slog.ErrorContext(ctx, "Failed to publish profile change", "error", err, "profile_id", id)
	}
}
