// Package memory is an in-process Repository for development and tests.
// It offers per-document atomic updates but no cross-store transactions, so
// the profile write and the audit append are two independent steps.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
)

const subscriberBuffer = 8

type Store struct {
	mu sync.RWMutex

	profiles    map[string]*models.UserProfile
	auditLog    []*models.AuditLogEntry
	subscribers map[string]map[chan *models.UserProfile]struct{}

	clock         func() time.Time
	lastTimestamp time.Time

	profileRepo *profileStore
	auditRepo   *auditStore
}

func NewStore(clock func() time.Time, seed ...*models.UserProfile) *Store {
	if clock == nil {
		clock = time.Now
	}
	s := &Store{
		profiles:    make(map[string]*models.UserProfile, len(seed)),
		auditLog:    make([]*models.AuditLogEntry, 0),
		subscribers: make(map[string]map[chan *models.UserProfile]struct{}),
		clock:       clock,
	}
	for _, p := range seed {
		s.profiles[strings.TrimSpace(p.ID)] = p.Clone()
	}
	s.profileRepo = &profileStore{s: s}
	s.auditRepo = &auditStore{s: s}
	return s
}

func (s *Store) Profile() repositories.ProfileRepository {
	return s.profileRepo
}

func (s *Store) AuditLog() repositories.AuditLogRepository {
	return s.auditRepo
}

func (s *Store) SupportsTransactions() bool {
	return false
}

// WithTransaction runs fn directly; writes inside are not rolled back on error
func (s *Store) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(s)
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close ends every open subscription
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, subs := range s.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(s.subscribers, id)
	}
	return nil
}

// serverTimestamp is strictly increasing so append order is recoverable
// even when the clock does not advance between calls
func (s *Store) serverTimestamp() time.Time {
	now := s.clock().UTC()
	if !now.After(s.lastTimestamp) {
		now = s.lastTimestamp.Add(time.Nanosecond)
	}
	s.lastTimestamp = now
	return now
}

// publish must be called with s.mu held
func (s *Store) publish(id string, profile *models.UserProfile) {
	for ch := range s.subscribers[id] {
		deliverLatest(ch, profile.Clone())
	}
}

// deliverLatest never blocks the writer: a slow subscriber loses the oldest
// pending snapshot, never the newest
func deliverLatest(ch chan *models.UserProfile, profile *models.UserProfile) {
	for {
		select {
		case ch <- profile:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// ===== PROFILES =====

type profileStore struct {
	s *Store
}

func (r *profileStore) Create(ctx context.Context, profile *models.UserProfile) error {
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := strings.TrimSpace(profile.ID)
	if _, exists := r.s.profiles[id]; exists {
		return fmt.Errorf("profile %s already exists", id)
	}
	stored := profile.Clone()
	now := r.s.clock()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	r.s.profiles[id] = stored
	r.s.publish(id, stored)
	return nil
}

func (r *profileStore) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	profile, ok := r.s.profiles[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("get profile %s: %w", id, repositories.ErrNotFound)
	}
	return profile.Clone(), nil
}

func (r *profileStore) Update(ctx context.Context, id string, patch *models.ProfilePatch) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id = strings.TrimSpace(id)
	current, ok := r.s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("update profile %s: %w", id, repositories.ErrNotFound)
	}
	next := current.Clone()
	patch.Apply(next)
	if patch.UpdatedAt.IsZero() {
		next.UpdatedAt = r.s.clock()
	}
	r.s.profiles[id] = next
	r.s.publish(id, next)
	return next.Clone(), nil
}

func (r *profileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := r.s.profiles[id]; !ok {
		return fmt.Errorf("delete profile %s: %w", id, repositories.ErrNotFound)
	}
	delete(r.s.profiles, id)
	r.s.publish(id, nil)
	return nil
}

func (r *profileStore) List(ctx context.Context, filters repositories.ProfileFilters) ([]*models.UserProfile, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make([]*models.UserProfile, 0, len(r.s.profiles))
	for _, p := range r.s.profiles {
		if filters.Role != nil && p.Role != *filters.Role {
			continue
		}
		if filters.InstitutionID != nil && (p.InstitutionID == nil || *p.InstitutionID != *filters.InstitutionID) {
			continue
		}
		if filters.Suspended != nil && p.Suspended != *filters.Suspended {
			continue
		}
		matched = append(matched, p.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	return paginate(matched, filters.Limit, filters.Offset), total, nil
}

func (r *profileStore) Subscribe(ctx context.Context, id string) (<-chan *models.UserProfile, error) {
	id = strings.TrimSpace(id)
	ch := make(chan *models.UserProfile, subscriberBuffer)

	r.s.mu.Lock()
	if r.s.subscribers[id] == nil {
		r.s.subscribers[id] = make(map[chan *models.UserProfile]struct{})
	}
	r.s.subscribers[id][ch] = struct{}{}
	// The initial snapshot goes out under the same lock as registration so no change slips between them
	ch <- r.s.profiles[id].Clone()
	r.s.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if subs, ok := r.s.subscribers[id]; ok {
			if _, open := subs[ch]; open {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(r.s.subscribers, id)
			}
		}
	}()

	return ch, nil
}

// ===== AUDIT LOG =====

type auditStore struct {
	s *Store
}

func (r *auditStore) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.auditLog {
		if existing.ID == entry.ID {
			return fmt.Errorf("audit entry %s already exists", entry.ID)
		}
	}
	entry.ServerTimestamp = r.s.serverTimestamp()
	r.s.auditLog = append(r.s.auditLog, entry.Clone())
	return nil
}

func (r *auditStore) GetByID(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, entry := range r.s.auditLog {
		if entry.ID == id {
			return entry.Clone(), nil
		}
	}
	return nil, fmt.Errorf("get audit entry %s: %w", id, repositories.ErrNotFound)
}

func (r *auditStore) List(ctx context.Context, filters repositories.AuditLogFilters) ([]*models.AuditLogEntry, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make([]*models.AuditLogEntry, 0)
	for _, entry := range r.s.auditLog {
		if !matchesAuditFilters(entry, filters) {
			continue
		}
		matched = append(matched, entry.Clone())
	}

	desc := strings.EqualFold(filters.SortOrder, "desc")
	sort.SliceStable(matched, func(i, j int) bool {
		less := auditLess(matched[i], matched[j])
		if desc {
			return auditLess(matched[j], matched[i])
		}
		return less
	})

	total := int64(len(matched))
	return paginate(matched, filters.Limit, filters.Offset), total, nil
}

func matchesAuditFilters(entry *models.AuditLogEntry, f repositories.AuditLogFilters) bool {
	if f.TargetUserID != nil && entry.TargetUserID != *f.TargetUserID {
		return false
	}
	if f.TargetUserEmail != nil && !strings.EqualFold(entry.TargetUserEmail, *f.TargetUserEmail) {
		return false
	}
	if f.ActorID != nil && entry.ActorID != *f.ActorID {
		return false
	}
	if f.Type != nil && entry.Type != *f.Type {
		return false
	}
	if f.DateFrom != nil && entry.ServerTimestamp.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && entry.ServerTimestamp.After(*f.DateTo) {
		return false
	}
	return true
}

func auditLess(a, b *models.AuditLogEntry) bool {
	if !a.ServerTimestamp.Equal(b.ServerTimestamp) {
		return a.ServerTimestamp.Before(b.ServerTimestamp)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
