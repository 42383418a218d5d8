package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/services"
	"github.com/SAP-F-2025/access-control-service/internal/utils"
)

const apiBasePath = "/api/v1"

type HandlerManager struct {
	accessHandler  *AccessHandler
	auditHandler   *AuditHandler
	authMiddleware *CasdoorAuthMiddleware
	serviceManager services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	authMiddleware *CasdoorAuthMiddleware,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		accessHandler:  NewAccessHandler(serviceManager.Access(), logger),
		auditHandler:   NewAuditHandler(serviceManager.Audit(), logger),
		authMiddleware: authMiddleware,
		serviceManager: serviceManager,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.HealthCheck)

	v1 := router.Group(apiBasePath)
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		me := v1.Group("/me")
		{
			me.GET("/access", hm.accessHandler.GetMyAccess)
			me.GET("/access/stream", hm.accessHandler.StreamMyAccess)
			me.GET("/routes/check", hm.accessHandler.CheckMyRoute)
		}

		// /me stays reachable for expired guests so they can see their state
		admin := v1.Group("/admin")
		admin.Use(hm.authMiddleware.RouteGuardMiddleware(apiBasePath))
		{
			users := admin.Group("/users")
			users.Use(hm.authMiddleware.RequirePermissionMiddleware(models.PermManageUsers))
			{
				users.GET("/:id", hm.accessHandler.GetUserProfile)
				users.DELETE("/:id", hm.accessHandler.DeleteUser)
				users.PUT("/:id/role", hm.authMiddleware.RequirePermissionMiddleware(models.PermManageRoles), hm.accessHandler.ChangeRole)
				users.PUT("/:id/permissions", hm.authMiddleware.RequirePermissionMiddleware(models.PermManageRoles), hm.accessHandler.UpdatePermissions)
				users.PUT("/:id/suspension", hm.accessHandler.SetSuspended)
				users.PUT("/:id/institution", hm.authMiddleware.RequirePermissionMiddleware(models.PermManageInstitutions), hm.accessHandler.AssignInstitution)
				users.DELETE("/:id/institution", hm.authMiddleware.RequirePermissionMiddleware(models.PermManageInstitutions), hm.accessHandler.RemoveInstitution)
				users.POST("/:id/guest-access", hm.accessHandler.GrantGuestAccess)
				users.DELETE("/:id/guest-access", hm.accessHandler.RevokeGuestAccess)
				users.POST("/:id/guest-access/extend", hm.accessHandler.ExtendGuestAccess)
			}

			admin.GET("/users/:id/audit-logs", hm.authMiddleware.RequirePermissionMiddleware(models.PermViewAuditLogs), hm.auditHandler.GetUserAuditLogs)

			auditLogs := admin.Group("/audit-logs")
			auditLogs.Use(hm.authMiddleware.RequirePermissionMiddleware(models.PermViewAuditLogs))
			{
				auditLogs.GET("", hm.auditHandler.ListAuditLogs)
				auditLogs.GET("/export", hm.auditHandler.ExportAuditLogs)
			}
		}
	}
}

// HealthCheck reports store reachability
func (hm *HandlerManager) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	state := "healthy"
	if err := hm.serviceManager.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "access-control-service",
	})
}
