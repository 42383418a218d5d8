package audit

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

const ExportSheetName = "Audit Log"

var exportHeader = []interface{}{
	"Server Timestamp", "Created At", "Type", "Actor ID", "Actor Email",
	"Target User ID", "Target User Email", "Description", "Reason",
}

// ExportXLSX writes entries, in the given order, to a single-sheet workbook
func ExportXLSX(entries []*models.AuditLogEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(ExportSheetName, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, entry := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			formatTimestamp(entry.ServerTimestamp),
			formatTimestamp(entry.CreatedAt),
			string(entry.Type),
			entry.ActorID,
			entry.ActorEmail,
			entry.TargetUserID,
			entry.TargetUserEmail,
			Describe(entry),
			entry.Reason,
		}
		if err := f.SetSheetRow(ExportSheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(ExportSheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
