package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesignal/pkg/response"
)

// RequireRole admits requests whose token role is one of roles. It must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		switch {
		case role == "":
			response.Abort(c, http.StatusUnauthorized, "missing user context")
		case !slices.Contains(roles, role):
			response.Abort(c, http.StatusForbidden, "role "+role+" cannot access admin routes")
		default:
			c.Next()
		}
	}
}
