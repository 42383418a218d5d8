package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/access-control-service/internal/services"
	"github.com/SAP-F-2025/access-control-service/internal/utils"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
)

type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the logger shared by every handler
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	args = append(args, "method", c.Request.Method, "path", c.FullPath())
	if userID, ok := c.Get("user_id"); ok {
		args = append(args, "user_id", userID)
	}
	utils.GetLogger(c, h.logger).Info(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	args = append(args, "error", err, "path", c.FullPath())
	utils.GetLogger(c, h.logger).Error(msg, args...)
}

func (h *BaseHandler) RespondWithError(c *gin.Context, status int, msg string, err error) {
	resp := ErrorResponse{Message: msg}
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		resp.Details = verrs
	case err != nil:
		resp.Details = err.Error()
	}
	c.JSON(status, resp)
}

// handleServiceError maps service errors to HTTP status codes
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAuditWriteFailed):
		h.LogError(c, err, "Profile changed without audit record")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Profile updated but the audit entry could not be recorded",
		})
	case errors.Is(err, services.ErrMutationRolledBack):
		h.LogError(c, err, "Profile change rolled back")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Change was not applied because its audit entry could not be recorded",
		})
	case errors.Is(err, services.ErrLiveUpdatesUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "Live updates are not available"})
	case errors.Is(err, services.ErrValidationFailed):
		h.RespondWithError(c, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, services.ErrAdminImmutable):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Forbidden", Details: err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Resource not found"})
	case errors.Is(err, services.ErrNoChange),
		errors.Is(err, services.ErrRoleMismatch),
		errors.Is(err, services.ErrSameRole),
		errors.Is(err, services.ErrAlreadyGuest),
		errors.Is(err, services.ErrNotGuest):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Conflict", Details: err.Error()})
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrMissingInstitution),
		errors.Is(err, services.ErrPermissionsNotSupported):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Message: "Operation not allowed", Details: err.Error()})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}
