package middleware

import (
	"net/http"
	"strings"

	"github.com/DropForge/dropforge-go/internal/infrastructure/security"
	"github.com/DropForge/dropforge-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// bearerToken extracts the token from an Authorization header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return header[7:]
	}
	return ""
}

// ServiceAuthMiddleware protects the captcha API: callers are internal
// services (the Telegram bot backend) presenting a service JWT. With no
// secret configured the API runs open, which is only appropriate behind a
// private network.
func ServiceAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := config.ServiceJWTSecret
		if secret == "" {
			c.Next()
			return
		}

		claims, err := security.ValidateJWT(bearerToken(c), secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Set("service", security.ServiceFromClaims(claims))
		c.Next()
	}
}

// OpsAuthMiddleware protects the ops surface. Tokens are issued by the ops
// login endpoint and carry the "ops" service claim.
func OpsAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := config.ServiceJWTSecret
		if secret == "" {
			c.Next()
			return
		}

		claims, err := security.ValidateJWT(bearerToken(c), secret)
		if err != nil || security.ServiceFromClaims(claims) != "ops" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
