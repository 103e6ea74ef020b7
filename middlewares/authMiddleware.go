package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/utils"
)

// AuthMiddleware verifies the bearer token and puts the caller's actor, role
// and site in the request context. Requests without a valid token stop here.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": utils.ErrorUnauthorized.Error()})
			return
		}
		token := strings.TrimSpace(auth[len(bearer):])

		claims, err := utils.ClaimsFromToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": utils.ErrorUnauthorized.Error()})
			return
		}

		ctx := utils.SetIdentityInContext(c.Request.Context(), claims.Actor, claims.Role, claims.Site)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
