package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

// appendOnlyTriggerSQL rejects UPDATE and DELETE on audit_logs at the database level
const appendOnlyTriggerSQL = `
CREATE OR REPLACE FUNCTION audit_logs_reject_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit_logs is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_logs_append_only ON audit_logs;

CREATE TRIGGER audit_logs_append_only
	BEFORE UPDATE OR DELETE ON audit_logs
	FOR EACH ROW EXECUTE FUNCTION audit_logs_reject_mutation();
`

// Migrate creates the profile and audit tables and installs the append-only trigger
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&models.UserProfile{}, &models.AuditLogEntry{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}

	if err := db.WithContext(ctx).Exec(appendOnlyTriggerSQL).Error; err != nil {
		return fmt.Errorf("install audit trigger failed: %w", err)
	}

	return nil
}
