package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DropForge/dropforge-go/internal/application/services"
	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/DropForge/dropforge-go/internal/infrastructure/security"
	"github.com/DropForge/dropforge-go/pkg/config"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const opsTokenTTL = 12 * time.Hour

// OpsHandlers serves the operator surface: login, incident review, ban
// lookup, performance snapshots, and log level control.
type OpsHandlers struct {
	challengeService *services.ChallengeService
	enforcementRepo  captcha.EnforcementRepository
	userRepo         captcha.UserRepository
	logger           *logging.ChanneledLogger
	perfTracker      *performance.Tracker
}

// NewOpsHandlers creates ops endpoint handlers
func NewOpsHandlers(challengeService *services.ChallengeService, enforcementRepo captcha.EnforcementRepository, userRepo captcha.UserRepository, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *OpsHandlers {
	return &OpsHandlers{
		challengeService: challengeService,
		enforcementRepo:  enforcementRepo,
		userRepo:         userRepo,
		logger:           logger,
		perfTracker:      perfTracker,
	}
}

// Login exchanges the ops password for a short-lived service token.
func (h *OpsHandlers) Login(c *gin.Context) {
	var request struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if config.OpsPasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ops access not configured. Set OPS_PASSWORD_HASH"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(config.OpsPasswordHash), []byte(request.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
		return
	}

	token, err := security.GenerateServiceToken("ops", config.ServiceJWTSecret, opsTokenTTL)
	if err != nil {
		h.logger.LogError(logging.ChannelSystem, "ops_login", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// GetIncidents returns recent security incidents. Evidence stays encrypted;
// this view is for triage, not forensics.
func (h *OpsHandlers) GetIncidents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	incidents, err := h.enforcementRepo.FindRecentIncidents(limit)
	if err != nil {
		h.logger.LogError(logging.ChannelSystem, "get_incidents", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load incidents"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

// GetBans returns the ban records for one user.
func (h *OpsHandlers) GetBans(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
		return
	}

	records, err := h.enforcementRepo.FindBanRecordsByUser(userID)
	if err != nil {
		h.logger.LogError(logging.ChannelSystem, "get_bans", err, map[string]any{"userId": userID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ban records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bans": records})
}

// GetRecentRegistrations lists accounts registered within the review window.
// Registration bursts are the usual precursor to a fingerprint collision
// wave, so operators get them as a standing view.
func (h *OpsHandlers) GetRecentRegistrations(c *gin.Context) {
	window := config.RecentRegistrationWindow
	if raw := c.Query("hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 24*90 {
			window = time.Duration(parsed) * time.Hour
		}
	}

	accounts, err := h.userRepo.FindRegisteredSince(time.Now().UTC().Add(-window))
	if err != nil {
		h.logger.LogError(logging.ChannelSystem, "get_recent_registrations", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load registrations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"window": window.String(), "count": len(accounts), "accounts": accounts})
}

// GetPerformance returns the aggregated operation timing snapshot.
func (h *OpsHandlers) GetPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, h.perfTracker.GetSnapshot())
}

// RenderPreview renders arbitrary text as a challenge image so operators can
// eyeball distortion settings.
func (h *OpsHandlers) RenderPreview(c *gin.Context) {
	var request struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(request.Text) > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text too long"})
		return
	}

	image, err := h.challengeService.GenerateChallengeImage(c.Request.Context(), request.Text)
	if err != nil {
		h.logger.LogError(logging.ChannelRender, "render_preview", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rendering failed"})
		return
	}

	c.Data(http.StatusOK, "image/png", image)
}

// GetLogLevels returns the current level per logging channel.
func (h *OpsHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"levels": h.logger.GetChannelLevels()})
}

var logLevelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SetLogLevel adjusts one channel's level at runtime.
func (h *OpsHandlers) SetLogLevel(c *gin.Context) {
	var request struct {
		Channel string `json:"channel" binding:"required"`
		Level   string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	level, ok := logLevelNames[request.Level]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown level"})
		return
	}

	if err := h.logger.SetChannelLevel(logging.Channel(request.Channel), level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
