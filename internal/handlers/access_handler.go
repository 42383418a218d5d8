package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/services"
	"github.com/SAP-F-2025/access-control-service/internal/utils"
)

type AccessHandler struct {
	BaseHandler
	accessService services.AccessService
}

func NewAccessHandler(accessService services.AccessService, logger utils.Logger) *AccessHandler {
	return &AccessHandler{
		BaseHandler:   NewBaseHandler(logger),
		accessService: accessService,
	}
}

// ===== SELF-SERVICE =====

// GetMyAccess returns the caller's role, home route and effective permissions
// @Summary Current access summary
// @Tags access
// @Produce json
// @Success 200 {object} services.AccessSummary
// @Failure 401 {object} ErrorResponse
// @Router /me/access [get]
func (h *AccessHandler) GetMyAccess(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	summary, err := h.accessService.GetAccessSummary(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// StreamMyAccess pushes the caller's access summary as server-sent events:
// an "access" event now and after every change, "deleted" when the profile
// is removed
// @Summary Stream access summary
// @Tags access
// @Produce text/event-stream
// @Success 200 {object} services.AccessSummary
// @Failure 503 {object} ErrorResponse
// @Router /me/access/stream [get]
func (h *AccessHandler) StreamMyAccess(c *gin.Context) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	summaries := make(chan *services.AccessSummary)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- h.accessService.WatchAccess(ctx, userID, func(summary *services.AccessSummary) {
			select {
			case summaries <- summary:
			case <-ctx.Done():
			}
		})
	}()

	// the first summary confirms the subscription; errors before it are plain JSON
	var summary *services.AccessSummary
	select {
	case summary = <-summaries:
	case err := <-watchErr:
		if err == nil {
			err = services.ErrProfileNotFound
		}
		h.handleServiceError(c, err)
		return
	case <-ctx.Done():
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	h.LogRequest(c, "Streaming access summary")
	for {
		if summary == nil {
			c.SSEvent("deleted", gin.H{"user_id": userID})
			c.Writer.Flush()
			return
		}
		c.SSEvent("access", summary)
		c.Writer.Flush()

		select {
		case summary = <-summaries:
		case err := <-watchErr:
			if err != nil && ctx.Err() == nil {
				h.LogError(c, err, "Access stream ended")
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckMyRoute reports whether the caller may open a client route
// @Summary Check route access
// @Tags access
// @Produce json
// @Param path query string true "Client route"
// @Success 200 {object} services.RouteCheckResponse
// @Failure 400 {object} ErrorResponse
// @Router /me/routes/check [get]
func (h *AccessHandler) CheckMyRoute(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Query parameter 'path' is required"})
		return
	}

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	result, err := h.accessService.CheckRoute(c.Request.Context(), userID, path)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ===== ADMINISTRATION =====

// GetUserProfile returns a profile by id
// @Summary Get user profile
// @Tags admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} models.UserProfile
// @Failure 404 {object} ErrorResponse
// @Router /admin/users/{id} [get]
func (h *AccessHandler) GetUserProfile(c *gin.Context) {
	profile, err := h.accessService.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ChangeRole moves a user to another role
// @Summary Change role
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param request body services.ChangeRoleRequest true "Role change"
// @Success 200 {object} services.MutationResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /admin/users/{id}/role [put]
func (h *AccessHandler) ChangeRole(c *gin.Context) {
	var req services.ChangeRoleRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Changing role", "target_user_id", c.Param("id"), "to_role", req.ToRole)
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.ChangeRole(m.ctx, m.targetID, &req, m.actor)
	})
}

// UpdatePermissions replaces the permission map of a partner instructor or guest
// @Summary Update permissions
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param request body services.UpdatePermissionsRequest true "Permission map"
// @Success 200 {object} services.MutationResult
// @Router /admin/users/{id}/permissions [put]
func (h *AccessHandler) UpdatePermissions(c *gin.Context) {
	var req services.UpdatePermissionsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Updating permissions", "target_user_id", c.Param("id"))
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.UpdatePermissions(m.ctx, m.targetID, &req, m.actor)
	})
}

// SetSuspended suspends or unsuspends a user
// @Router /admin/users/{id}/suspension [put]
func (h *AccessHandler) SetSuspended(c *gin.Context) {
	var req services.SetSuspendedRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Setting suspension", "target_user_id", c.Param("id"))
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.SetSuspended(m.ctx, m.targetID, &req, m.actor)
	})
}

// AssignInstitution binds a user to an institution
// @Router /admin/users/{id}/institution [put]
func (h *AccessHandler) AssignInstitution(c *gin.Context) {
	var req services.AssignInstitutionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Assigning institution", "target_user_id", c.Param("id"), "institution_id", req.InstitutionID)
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.AssignInstitution(m.ctx, m.targetID, &req, m.actor)
	})
}

// RemoveInstitution clears a user's institution
// @Router /admin/users/{id}/institution [delete]
func (h *AccessHandler) RemoveInstitution(c *gin.Context) {
	var req services.ReasonRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Removing institution", "target_user_id", c.Param("id"))
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.RemoveInstitution(m.ctx, m.targetID, &req, m.actor)
	})
}

// GrantGuestAccess turns a user into a time-limited guest
// @Router /admin/users/{id}/guest-access [post]
func (h *AccessHandler) GrantGuestAccess(c *gin.Context) {
	var req services.GuestAccessRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Granting guest access", "target_user_id", c.Param("id"), "duration_hours", req.DurationHours)
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.GrantGuestAccess(m.ctx, m.targetID, &req, m.actor)
	})
}

// ExtendGuestAccess pushes a guest's expiry forward
// @Router /admin/users/{id}/guest-access/extend [post]
func (h *AccessHandler) ExtendGuestAccess(c *gin.Context) {
	var req services.GuestAccessRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Extending guest access", "target_user_id", c.Param("id"), "duration_hours", req.DurationHours)
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.ExtendGuestAccess(m.ctx, m.targetID, &req, m.actor)
	})
}

// RevokeGuestAccess returns a guest to the student role
// @Router /admin/users/{id}/guest-access [delete]
func (h *AccessHandler) RevokeGuestAccess(c *gin.Context) {
	var req services.ReasonRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Revoking guest access", "target_user_id", c.Param("id"))
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.RevokeGuestAccess(m.ctx, m.targetID, &req, m.actor)
	})
}

// DeleteUser removes a user's profile
// @Router /admin/users/{id} [delete]
func (h *AccessHandler) DeleteUser(c *gin.Context) {
	var req services.ReasonRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	h.LogRequest(c, "Deleting user", "target_user_id", c.Param("id"))
	h.mutate(c, func(m mutationContext) (*services.MutationResult, error) {
		return h.accessService.DeleteUser(m.ctx, m.targetID, &req, m.actor)
	})
}

// ===== HELPERS =====

type mutationContext struct {
	ctx      context.Context
	targetID string
	actor    models.Actor
}

func (h *AccessHandler) mutate(c *gin.Context, fn func(mutationContext) (*services.MutationResult, error)) {
	actor, err := GetActorFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	result, err := fn(mutationContext{ctx: c.Request.Context(), targetID: c.Param("id"), actor: actor})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AccessHandler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err)
		return false
	}
	return true
}

// bindOptionalJSON accepts an empty body for endpoints whose fields are all optional
func (h *AccessHandler) bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bindJSON(c, req)
}
