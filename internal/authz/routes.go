package authz

import (
	"strings"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

const (
	LoginRoute  = "/login"
	LogoutRoute = "/logout"
)

var homeRoutes = map[models.UserRole]string{
	models.RoleStudent:           "/student/dashboard",
	models.RoleInstructor:        "/instructor/dashboard",
	models.RolePartnerInstructor: "/partner/dashboard",
	models.RoleGuest:             "/guest/dashboard",
	models.RoleAdmin:             "/admin/dashboard",
}

// HomeRouteFor maps a role to its landing route; anything else lands on login
func HomeRouteFor(profile *models.UserProfile) string {
	if profile == nil {
		return LoginRoute
	}
	if route, ok := homeRoutes[profile.Role]; ok {
		return route
	}
	return LoginRoute
}

// RouteRule grants a path prefix to a set of roles
type RouteRule struct {
	Prefix string
	Roles  []models.UserRole
}

func (r RouteRule) allows(role models.UserRole) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// RouteTable is evaluated in order; the first matching prefix wins
type RouteTable struct {
	rules  []RouteRule
	public []string
}

// NewRouteTable builds a table. Public prefixes are reachable without a profile.
func NewRouteTable(rules []RouteRule, public ...string) *RouteTable {
	copied := make([]RouteRule, len(rules))
	for i, rule := range rules {
		roles := make([]models.UserRole, len(rule.Roles))
		copy(roles, rule.Roles)
		copied[i] = RouteRule{Prefix: normalizePath(rule.Prefix), Roles: roles}
	}
	pub := make([]string, 0, len(public))
	for _, p := range public {
		pub = append(pub, normalizePath(p))
	}
	return &RouteTable{rules: copied, public: pub}
}

// DefaultRouteTable is the table used by the web application
func DefaultRouteTable() *RouteTable {
	return NewRouteTable([]RouteRule{
		{Prefix: "/admin", Roles: []models.UserRole{models.RoleAdmin}},
		{Prefix: "/instructor", Roles: []models.UserRole{models.RoleInstructor, models.RoleAdmin}},
		{Prefix: "/partner", Roles: []models.UserRole{models.RolePartnerInstructor, models.RoleAdmin}},
		{Prefix: "/guest", Roles: []models.UserRole{models.RoleGuest, models.RoleAdmin}},
		{Prefix: "/student", Roles: []models.UserRole{models.RoleStudent, models.RoleAdmin}},
	}, LoginRoute, LogoutRoute)
}

// Rules returns a copy of the ordered rules
func (t *RouteTable) Rules() []RouteRule {
	out := make([]RouteRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// IsPublic reports whether the path is reachable without authentication
func (t *RouteTable) IsPublic(path string) bool {
	path = normalizePath(path)
	for _, prefix := range t.public {
		if hasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// CanAccess matches path against the table. Unmatched paths are open to any
// authenticated subject with a recognized role.
func (t *RouteTable) CanAccess(profile *models.UserProfile, path string) bool {
	if t.IsPublic(path) {
		return true
	}
	if profile == nil || !profile.Role.IsValid() {
		return false
	}
	path = normalizePath(path)
	for _, rule := range t.rules {
		if hasPathPrefix(path, rule.Prefix) {
			return rule.allows(profile.Role)
		}
	}
	return true
}

var defaultRoutes = DefaultRouteTable()

// CanAccessRoute checks path against the default route table
func CanAccessRoute(profile *models.UserProfile, path string) bool {
	return defaultRoutes.CanAccess(profile, path)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// hasPathPrefix matches whole segments: /admin covers /admin/users but not /administrator
func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
