// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"net/http"

	"github.com/DropForge/dropforge-go/internal/application/container"
	"github.com/DropForge/dropforge-go/internal/presentation/http/handlers"
	"github.com/DropForge/dropforge-go/internal/presentation/http/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	captchaHandlers := handlers.NewCaptchaHandlers(container.ChallengeService, container.VerificationService, container.Logger, container.PerfTracker)
	opsHandlers := handlers.NewOpsHandlers(container.ChallengeService, container.EnforcementRepo, container.UserRepo, container.Logger, container.PerfTracker)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Captcha API consumed by the bot backend.
	api := r.Group("/api/v1/captcha")
	api.Use(middleware.ServiceAuthMiddleware())
	{
		api.POST("/sessions", captchaHandlers.CreateSession)
		api.POST("/verify", captchaHandlers.Verify)
	}

	// Operator surface.
	ops := r.Group("/api/ops")
	{
		ops.POST("/login", opsHandlers.Login)

		ops.Use(middleware.OpsAuthMiddleware())
		{
			ops.GET("/incidents", opsHandlers.GetIncidents)
			ops.GET("/bans", opsHandlers.GetBans)
			ops.GET("/registrations", opsHandlers.GetRecentRegistrations)
			ops.GET("/performance", opsHandlers.GetPerformance)
			ops.POST("/render-preview", opsHandlers.RenderPreview)
			ops.GET("/logs/levels", opsHandlers.GetLogLevels)
			ops.POST("/logs/levels", opsHandlers.SetLogLevel)
		}
	}

	return r
}
