package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/access-control-service/internal/services"
	"github.com/SAP-F-2025/access-control-service/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AuditHandler struct {
	BaseHandler
	auditService services.AuditService
}

func NewAuditHandler(auditService services.AuditService, logger utils.Logger) *AuditHandler {
	return &AuditHandler{
		BaseHandler:  NewBaseHandler(logger),
		auditService: auditService,
	}
}

// ListAuditLogs lists audit entries
// @Summary List audit logs
// @Tags audit
// @Produce json
// @Param target_user_id query string false "Target user"
// @Param actor_id query string false "Actor"
// @Param type query string false "Event type"
// @Param date_from query string false "RFC3339 lower bound"
// @Param date_to query string false "RFC3339 upper bound"
// @Param limit query int false "Page size (default: 50, max: 1000)"
// @Param offset query int false "Offset"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} services.AuditLogListResponse
// @Failure 400 {object} ErrorResponse
// @Router /admin/audit-logs [get]
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	var query services.AuditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	h.LogRequest(c, "Listing audit logs", "type", query.Type, "target_user_id", query.TargetUserID)

	result, err := h.auditService.History(c.Request.Context(), &query)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetUserAuditLogs lists the entries that target one user
// @Summary User audit history
// @Tags audit
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} services.AuditLogListResponse
// @Router /admin/users/{id}/audit-logs [get]
func (h *AuditHandler) GetUserAuditLogs(c *gin.Context) {
	limit, ok := h.parseIntQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := h.parseIntQuery(c, "offset")
	if !ok {
		return
	}

	result, err := h.auditService.ByTarget(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ExportAuditLogs downloads the filtered history as a spreadsheet
// @Summary Export audit logs
// @Tags audit
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Router /admin/audit-logs/export [get]
func (h *AuditHandler) ExportAuditLogs(c *gin.Context) {
	var query services.AuditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	h.LogRequest(c, "Exporting audit logs")

	data, err := h.auditService.Export(c.Request.Context(), &query)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("audit-log-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *AuditHandler) parseIntQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("Invalid %s parameter", name),
		})
		return 0, false
	}
	return value, true
}
