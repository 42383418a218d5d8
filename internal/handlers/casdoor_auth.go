package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/access-control-service/internal/config"
	"github.com/SAP-F-2025/access-control-service/internal/guestaccess"
	"github.com/SAP-F-2025/access-control-service/internal/models"
	"github.com/SAP-F-2025/access-control-service/internal/repositories"
	"github.com/SAP-F-2025/access-control-service/internal/session"
	"github.com/SAP-F-2025/access-control-service/internal/utils"
)

const (
	contextUserID    = "user_id"
	contextUser      = "user"
	contextUserRole  = "user_role"
	contextUserEmail = "user_email"
	contextSession   = "session"
)

// TokenParser verifies a bearer token; *casdoorsdk.Client satisfies it
type TokenParser interface {
	ParseJwtToken(token string) (*casdoorsdk.Claims, error)
}

// CasdoorAuthMiddleware authenticates with Casdoor and resolves the caller's profile
type CasdoorAuthMiddleware struct {
	parser     TokenParser
	profiles   repositories.ProfileRepository
	calculator *guestaccess.Calculator
	logger     utils.Logger
}

// NewCasdoorAuthMiddleware creates a new Casdoor authentication middleware
func NewCasdoorAuthMiddleware(cfg config.CasdoorConfig, profiles repositories.ProfileRepository, calculator *guestaccess.Calculator, logger utils.Logger) *CasdoorAuthMiddleware {
	client := casdoorsdk.NewClient(
		cfg.Endpoint,
		cfg.ClientID,
		cfg.ClientSecret,
		cfg.Cert,
		cfg.Organization,
		cfg.Application,
	)
	return NewAuthMiddlewareWithParser(client, profiles, calculator, logger)
}

func NewAuthMiddlewareWithParser(parser TokenParser, profiles repositories.ProfileRepository, calculator *guestaccess.Calculator, logger utils.Logger) *CasdoorAuthMiddleware {
	return &CasdoorAuthMiddleware{
		parser:     parser,
		profiles:   profiles,
		calculator: calculator,
		logger:     logger,
	}
}

// AuthMiddleware verifies the bearer token, loads the profile and refuses suspended subjects
func (cam *CasdoorAuthMiddleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Authorization header missing or malformed",
			})
			return
		}

		claims, err := cam.parser.ParseJwtToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Invalid token",
				Details: err.Error(),
			})
			return
		}

		profile, err := cam.resolveProfile(c.Request.Context(), claims)
		if err != nil {
			utils.GetLogger(c, cam.logger).Error("Failed to resolve profile", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Failed to resolve user profile",
			})
			return
		}

		if profile.Suspended {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Account suspended",
			})
			return
		}

		c.Set(contextUserID, profile.ID)
		c.Set(contextUser, profile)
		c.Set(contextUserRole, profile.Role)
		c.Set(contextUserEmail, profile.Email)
		c.Set(contextSession, session.New(profile, cam.calculator, session.WithLogger(cam.logger.Slog())))

		c.Next()
	}
}

// RequireRoleMiddleware passes subjects holding any of roles
func (cam *CasdoorAuthMiddleware) RequireRoleMiddleware(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := GetSessionFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Message: "Forbidden"})
			return
		}
		for _, role := range roles {
			if sess.HasRole(role) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
			Message: "Forbidden",
			Details: fmt.Sprintf("required role: %v", roles),
		})
	}
}

// RequirePermissionMiddleware passes subjects holding every listed permission
func (cam *CasdoorAuthMiddleware) RequirePermissionMiddleware(permissions ...models.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := GetSessionFromContext(c)
		if !ok || !sess.HasAllPermissions(permissions...) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Forbidden",
				Details: fmt.Sprintf("required permissions: %v", permissions),
			})
			return
		}
		c.Next()
	}
}

// RouteGuardMiddleware checks the request path, relative to basePath, against the route table
func (cam *CasdoorAuthMiddleware) RouteGuardMiddleware(basePath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, basePath)
		sess, ok := GetSessionFromContext(c)
		if !ok || !sess.CanAccessRoute(path) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Route not accessible",
				Details: path,
			})
			return
		}
		c.Next()
	}
}

// resolveProfile loads the subject's profile, creating a default one on first sign-in
func (cam *CasdoorAuthMiddleware) resolveProfile(ctx context.Context, claims *casdoorsdk.Claims) (*models.UserProfile, error) {
	userID := claims.Id
	if userID == "" {
		return nil, fmt.Errorf("invalid user ID in token")
	}

	profile, err := cam.profiles.GetByID(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !repositories.IsNotFoundError(err) {
		return nil, err
	}

	profile = &models.UserProfile{
		ID:    userID,
		Email: claims.User.Email,
		Role:  mapCasdoorTypeToRole(claims.User.Type),
	}
	if err := cam.profiles.Create(ctx, profile); err != nil {
		// lost a race with a concurrent first request
		if existing, getErr := cam.profiles.GetByID(ctx, userID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	cam.logger.Info("Provisioned profile", "user_id", userID, "role", profile.Role)
	return profile, nil
}

// mapCasdoorTypeToRole only yields roles that need no institution
func mapCasdoorTypeToRole(casdoorType string) models.UserRole {
	switch strings.ToLower(casdoorType) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "teacher", "instructor", "educator":
		return models.RoleInstructor
	default:
		return models.RoleStudent
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// GetSessionFromContext returns the session set by AuthMiddleware
func GetSessionFromContext(c *gin.Context) (*session.Session, bool) {
	value, exists := c.Get(contextSession)
	if !exists {
		return nil, false
	}
	sess, ok := value.(*session.Session)
	return sess, ok
}

// GetUserIDFromContext extracts user ID from Gin context
func GetUserIDFromContext(c *gin.Context) (string, error) {
	userID, exists := c.Get(contextUserID)
	if !exists {
		return "", fmt.Errorf("user ID not found in context")
	}

	id, ok := userID.(string)
	if !ok {
		return "", fmt.Errorf("invalid user ID type in context")
	}

	return id, nil
}

// GetActorFromContext builds the audit actor for the authenticated subject
func GetActorFromContext(c *gin.Context) (models.Actor, error) {
	id, err := GetUserIDFromContext(c)
	if err != nil {
		return models.Actor{}, err
	}
	email, _ := c.Get(contextUserEmail)
	emailStr, _ := email.(string)
	return models.Actor{ID: id, Email: emailStr}, nil
}
