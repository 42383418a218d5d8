package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SAP-F-2025/access-control-service/internal/audit"
	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
)

const (
	defaultAuditPageSize = 50
	maxAuditExportRows   = 10000
)

type auditService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
}

func NewAuditService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator) AuditService {
	return &auditService{
		repo:      repo,
		logger:    logger,
		validator: validator,
	}
}

// History lists entries in append order unless the query asks for desc
func (s *auditService) History(ctx context.Context, query *AuditLogQuery) (*AuditLogListResponse, error) {
	if query == nil {
		query = &AuditLogQuery{}
	}
	if err := s.validator.Validate(query); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	filters := toAuditFilters(query)
	if filters.Limit == 0 {
		filters.Limit = defaultAuditPageSize
	}
	return s.list(ctx, filters)
}

func (s *auditService) ByTarget(ctx context.Context, targetUserID string, limit, offset int) (*AuditLogListResponse, error) {
	if strings.TrimSpace(targetUserID) == "" {
		return nil, fmt.Errorf("%w: target user id is required", ErrValidationFailed)
	}
	return s.History(ctx, &AuditLogQuery{TargetUserID: targetUserID, Limit: limit, Offset: offset})
}

func (s *auditService) ByType(ctx context.Context, eventType models.AuditEventType, limit, offset int) (*AuditLogListResponse, error) {
	return s.History(ctx, &AuditLogQuery{Type: string(eventType), Limit: limit, Offset: offset})
}

func (s *auditService) Describe(entry *models.AuditLogEntry) string {
	return audit.Describe(entry)
}

// Export renders every matching entry, capped, as an XLSX workbook
func (s *auditService) Export(ctx context.Context, query *AuditLogQuery) ([]byte, error) {
	if query == nil {
		query = &AuditLogQuery{}
	}
	if err := s.validator.Validate(query); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	filters := toAuditFilters(query)
	filters.Limit = maxAuditExportRows
	filters.Offset = 0

	entries, total, err := s.repo.AuditLog().List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	if total > int64(len(entries)) {
		s.logger.Warn("Audit export truncated", "total", total, "exported", len(entries))
	}

	data, err := audit.ExportXLSX(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to export audit entries: %w", err)
	}

	s.logger.Info("Audit history exported", "entries", len(entries))
	return data, nil
}

func (s *auditService) list(ctx context.Context, filters repositories.AuditLogFilters) (*AuditLogListResponse, error) {
	entries, total, err := s.repo.AuditLog().List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	views := make([]*AuditLogView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, &AuditLogView{AuditLogEntry: entry, Description: audit.Describe(entry)})
	}

	return &AuditLogListResponse{
		Entries: views,
		Total:   total,
		Limit:   filters.Limit,
		Offset:  filters.Offset,
	}, nil
}

func toAuditFilters(query *AuditLogQuery) repositories.AuditLogFilters {
	filters := repositories.AuditLogFilters{
		DateFrom:  query.DateFrom,
		DateTo:    query.DateTo,
		Limit:     query.Limit,
		Offset:    query.Offset,
		SortOrder: strings.ToLower(query.SortOrder),
	}
	if query.TargetUserID != "" {
		filters.TargetUserID = models.StringPtr(query.TargetUserID)
	}
	if query.TargetUserEmail != "" {
		filters.TargetUserEmail = models.StringPtr(query.TargetUserEmail)
	}
	if query.ActorID != "" {
		filters.ActorID = models.StringPtr(query.ActorID)
	}
	if query.Type != "" {
		eventType := models.AuditEventType(query.Type)
		filters.Type = &eventType
	}
	return filters
}
