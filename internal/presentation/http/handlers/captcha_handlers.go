// Package handlers provides HTTP handlers for the captcha API and the ops
// surface.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DropForge/dropforge-go/internal/application/services"
	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// CaptchaHandlers serves session creation and verification for the bot
// backend.
type CaptchaHandlers struct {
	challengeService    *services.ChallengeService
	verificationService *services.VerificationService
	logger              *logging.ChanneledLogger
	perfTracker         *performance.Tracker
}

// NewCaptchaHandlers creates captcha endpoint handlers
func NewCaptchaHandlers(challengeService *services.ChallengeService, verificationService *services.VerificationService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *CaptchaHandlers {
	return &CaptchaHandlers{
		challengeService:    challengeService,
		verificationService: verificationService,
		logger:              logger,
		perfTracker:         perfTracker,
	}
}

type createSessionRequest struct {
	UserID      string              `json:"userId" binding:"required"`
	Type        string              `json:"type"`
	CountryHint string              `json:"countryHint"`
	Device      *captcha.DeviceData `json:"device"`
}

type verifyRequest struct {
	SessionID   string              `json:"sessionId" binding:"required"`
	Answer      string              `json:"answer"`
	TimeTakenMs int64               `json:"timeTakenMs"`
	Device      *captcha.DeviceData `json:"device"`
}

// CreateSession issues a new adaptively-selected challenge for a user.
func (h *CaptchaHandlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	requestedType := captcha.TypeTextImage
	if req.Type == string(captcha.TypeInteractive) {
		requestedType = captcha.TypeInteractive
	}

	clientIP := c.ClientIP()
	if req.Device != nil {
		req.Device.Network.IPAddress = clientIP
	}

	// Clients that accept WebP get the smaller encoding.
	format := "png"
	if strings.Contains(c.GetHeader("Accept"), "image/webp") {
		format = "webp"
	}

	session, err := h.challengeService.CreateSession(c.Request.Context(), req.UserID, requestedType, req.Device, clientIP, req.CountryHint, format)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// Verify evaluates a submitted answer.
func (h *CaptchaHandlers) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.Device != nil {
		req.Device.Network.IPAddress = c.ClientIP()
	}

	result, err := h.verificationService.Verify(req.SessionID, req.Answer, req.Device, time.Duration(req.TimeTakenMs)*time.Millisecond)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// writeError maps the error taxonomy onto HTTP responses. Anything outside
// the taxonomy gets a generic retry prompt with no internal detail.
func (h *CaptchaHandlers) writeError(c *gin.Context, err error) {
	var rateLimit *captcha.RateLimitError
	var ban *captcha.BanError

	switch {
	case errors.Is(err, captcha.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found", "code": "SESSION_NOT_FOUND"})
	case errors.Is(err, captcha.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Session expired", "code": "SESSION_EXPIRED"})
	case errors.Is(err, captcha.ErrAttemptsExceeded):
		c.JSON(http.StatusForbidden, gin.H{"error": "Maximum attempts exceeded", "code": "ATTEMPTS_EXCEEDED"})
	case errors.As(err, &ban):
		c.JSON(http.StatusForbidden, gin.H{
			"error":          "Account permanently banned",
			"code":           "ACCOUNT_BANNED",
			"originalUserId": ban.OriginalUserID,
		})
	case errors.Is(err, captcha.ErrAccountBanned):
		c.JSON(http.StatusForbidden, gin.H{"error": "Account permanently banned", "code": "ACCOUNT_BANNED"})
	case errors.Is(err, captcha.ErrLocationBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "Location not supported", "code": "LOCATION_BLOCKED"})
	case errors.As(err, &rateLimit):
		retryAfter := int(rateLimit.RetryAfter.Round(time.Second).Seconds())
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":             "Too many failed attempts",
			"code":              "RATE_LIMITED",
			"scope":             rateLimit.Scope,
			"retryAfterSeconds": retryAfter,
		})
	default:
		h.logger.LogError(logging.ChannelCaptcha, "handler", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification temporarily unavailable, please retry"})
	}
}
