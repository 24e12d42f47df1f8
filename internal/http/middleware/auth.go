package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agrimrv/backend/internal/auth"
)

const (
	CtxUserID   = "user_id"
	CtxUserRole = "user_role"
	CtxFarmerID = "farmer_id"
)

func RequireAuth(jwt *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwt.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserRole, claims.Role)
		c.Set(CtxFarmerID, claims.FarmerID)
		c.Next()
	}
}

// RequireFarmerScope lets farmers reach only their own :farmerId routes.
// Admin and service callers pass through.
func RequireFarmerScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(CtxUserRole)
		if role == auth.RoleAdmin || role == auth.RoleService {
			c.Next()
			return
		}
		if role != auth.RoleFarmer || c.GetString(CtxFarmerID) == "" || c.GetString(CtxFarmerID) != c.Param("farmerId") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
