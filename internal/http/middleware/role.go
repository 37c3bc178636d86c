package middleware

import (
	"net/http"

	"optiroute/internal/domain"

	"github.com/gin-gonic/gin"
)

// RequireRoles only lets through callers whose role is in allowedRoles.
// It expects RequireAuth to have set userRole on the context, e.g.
//
//	r.GET("/chat/online", RequireRoles(domain.RoleStaff, domain.RoleAdmin), handler)
func RequireRoles(allowedRoles ...domain.Role) gin.HandlerFunc {
	allowed := make(map[domain.Role]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[domain.NormalizeRole(string(r))] = struct{}{}
	}

	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		if role == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "role missing from context")
			return
		}

		if _, ok := allowed[domain.NormalizeRole(role)]; !ok {
			abortJSON(c, http.StatusForbidden, "forbidden", "role not allowed")
			return
		}
		c.Next()
	}
}
