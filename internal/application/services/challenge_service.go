package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/DropForge/dropforge-go/internal/infrastructure/rendering"
	"github.com/DropForge/dropforge-go/internal/infrastructure/security"
	"github.com/DropForge/dropforge-go/pkg/config"
)

// Ambiguous glyphs (0/O, 1/I/L) are excluded so a correct reading is always
// unambiguous.
const textCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// interactiveCategories is the fixed catalog for grid-selection challenges.
var interactiveCategories = []string{
	"traffic lights",
	"bicycles",
	"crosswalks",
	"buses",
	"fire hydrants",
	"bridges",
	"palm trees",
	"motorcycles",
}

const interactiveGridSize = 9

// ChallengeService creates captcha sessions with adaptively selected
// challenge type, difficulty, and attempt budget.
type ChallengeService struct {
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
	renderer     *rendering.Renderer
	fingerprints *FingerprintService
	risk         *RiskService
	userRepo     captcha.UserRepository
	deviceRepo   captcha.DeviceRepository
	sessionRepo  captcha.SessionRepository
	threatRepo   captcha.ThreatRepository
}

// NewChallengeService creates a new challenge service
func NewChallengeService(
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
	renderer *rendering.Renderer,
	fingerprints *FingerprintService,
	risk *RiskService,
	userRepo captcha.UserRepository,
	deviceRepo captcha.DeviceRepository,
	sessionRepo captcha.SessionRepository,
	threatRepo captcha.ThreatRepository,
) *ChallengeService {
	return &ChallengeService{
		logger:       logger,
		perfTracker:  perfTracker,
		renderer:     renderer,
		fingerprints: fingerprints,
		risk:         risk,
		userRepo:     userRepo,
		deviceRepo:   deviceRepo,
		sessionRepo:  sessionRepo,
		threatRepo:   threatRepo,
	}
}

// Selection is the outcome of adaptive challenge selection.
type Selection struct {
	Type        captcha.ChallengeType
	Difficulty  captcha.Difficulty
	MaxAttempts int
	Reason      string
}

// SelectChallenge derives challenge type, difficulty, and attempt budget from
// the risk assessment. Critical risk forces the interactive type, high risk
// upgrades a text-image request to interactive, lower tiers honor the
// caller's request.
func SelectChallenge(requested captcha.ChallengeType, assessment *captcha.RiskAssessment) Selection {
	selected := requested
	reason := "requested type honored"

	switch assessment.Level {
	case captcha.RiskCritical:
		selected = captcha.TypeInteractive
		reason = "critical risk forces interactive challenge"
	case captcha.RiskHigh:
		if requested == captcha.TypeTextImage {
			selected = captcha.TypeInteractive
			reason = "high risk upgrades text-image to interactive"
		}
	}

	var difficulty captcha.Difficulty
	switch {
	case assessment.OverallRisk >= 0.7:
		difficulty = captcha.DifficultyHard
	case assessment.OverallRisk >= 0.4:
		difficulty = captcha.DifficultyMedium
	default:
		difficulty = captcha.DifficultyEasy
	}

	maxAttempts := config.DefaultMaxAttempts
	switch assessment.Level {
	case captcha.RiskCritical, captcha.RiskHigh:
		maxAttempts = 2
	case captcha.RiskMedium:
		maxAttempts = 3
	}

	return Selection{
		Type:        selected,
		Difficulty:  difficulty,
		MaxAttempts: maxAttempts,
		Reason:      reason,
	}
}

// textLengthFor maps difficulty to the source text length.
func textLengthFor(difficulty captcha.Difficulty) int {
	switch difficulty {
	case captcha.DifficultyHard:
		return 6
	case captcha.DifficultyMedium:
		return 5
	default:
		return 4
	}
}

func randomText(length int) string {
	var sb strings.Builder
	for i := 0; i < length; i++ {
		sb.WriteByte(textCharset[rand.Intn(len(textCharset))])
	}
	return sb.String()
}

// CreateSession fingerprints the device, assesses risk, selects a challenge,
// renders it, and persists the session. The returned session carries the
// challenge payload; the expected answer and fingerprint material never
// serialize outward. format is "png" or "webp".
func (c *ChallengeService) CreateSession(ctx context.Context, userID string, requestedType captcha.ChallengeType, data *captcha.DeviceData, ipAddress, countryHint, format string) (*captcha.Session, error) {
	marker := c.perfTracker.StartOperation("session_create")
	defer marker.Complete()

	user, err := c.userRepo.FindByID(userID)
	if err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		marker.SetSuccess(false)
		return nil, fmt.Errorf("unknown user %s", userID)
	}
	if user.Banned() {
		marker.SetSuccess(false)
		return nil, captcha.ErrAccountBanned
	}

	fp := c.fingerprints.Generate(userID, data)
	if !fp.Fallback {
		if err := c.deviceRepo.Save(userID, fp); err != nil {
			// Collision detection degrades without the stored print; the
			// session flow continues.
			c.logger.LogError(logging.ChannelCaptcha, "fingerprint_save", err, map[string]any{"userId": userID})
		}
	}

	assessment, err := c.risk.Assess(userID, fp, ipAddress, countryHint)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	selection := SelectChallenge(requestedType, assessment)
	marker.AddMetadata("type", string(selection.Type))
	marker.AddMetadata("difficulty", string(selection.Difficulty))

	var challenge captcha.Challenge
	var answer string

	switch selection.Type {
	case captcha.TypeInteractive:
		category := interactiveCategories[rand.Intn(len(interactiveCategories))]
		answer = "interactive-" + category
		challenge = captcha.Challenge{
			Type:       captcha.TypeInteractive,
			Difficulty: selection.Difficulty,
			Prompt:     fmt.Sprintf("Select all squares containing %s", category),
			Interactive: &captcha.InteractiveChallenge{
				Category: category,
				GridSize: interactiveGridSize,
			},
		}
	default:
		text := randomText(textLengthFor(selection.Difficulty))
		answer = strings.ToUpper(text)
		image, renderErr := c.renderer.RenderText(ctx, text, selection.Difficulty, format)
		if renderErr != nil {
			marker.SetError(renderErr)
			return nil, fmt.Errorf("failed to render challenge: %w", renderErr)
		}
		challenge = captcha.Challenge{
			Type:       captcha.TypeTextImage,
			Difficulty: selection.Difficulty,
			Prompt:     "Enter the characters shown in the image",
			TextImage:  image,
		}
	}

	now := time.Now().UTC()
	threats := c.threatSummary(userID)
	botScore := 0.0
	if data != nil {
		botScore = data.Behavior.BotScore
	}

	session := &captcha.Session{
		ID:              security.GenerateULID(),
		UserID:          userID,
		Type:            selection.Type,
		Challenge:       challenge,
		Answer:          answer,
		Attempts:        0,
		MaxAttempts:     selection.MaxAttempts,
		CreatedAt:       now,
		ExpiresAt:       now.Add(config.SessionTTL),
		FingerprintHash: fp.Hash,
		IPAddress:       ipAddress,
		Metadata: captcha.SessionMetadata{
			BotScore:         botScore,
			Risk:             *assessment,
			SelectionReason:  selection.Reason,
			ThreatIndicators: threats,
		},
	}

	if err := c.sessionRepo.Save(session); err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("failed to save captcha session: %w", err)
	}

	marker.SetSuccess(true)
	c.logger.Captcha().Info("Captcha session created",
		"sessionId", session.ID,
		"userId", userID,
		"type", string(selection.Type),
		"difficulty", string(selection.Difficulty),
		"maxAttempts", selection.MaxAttempts,
		"riskLevel", string(assessment.Level))

	return session, nil
}

// threatSummary flattens the analyzer's indicator kinds into session
// metadata. Lookup failures leave the summary empty.
func (c *ChallengeService) threatSummary(userID string) []string {
	indicators, err := c.threatRepo.FindIndicatorsByUser(userID)
	if err != nil {
		c.logger.LogError(logging.ChannelCaptcha, "threat_summary", err, map[string]any{"userId": userID})
		return nil
	}
	kinds := make([]string, 0, len(indicators))
	for _, indicator := range indicators {
		kinds = append(kinds, indicator.Kind)
	}
	return kinds
}

// GenerateChallengeImage renders arbitrary text as a medium-difficulty
// challenge image. Stateless; used by the ops surface to preview rendering.
func (c *ChallengeService) GenerateChallengeImage(ctx context.Context, text string) ([]byte, error) {
	image, err := c.renderer.RenderText(ctx, text, captcha.DifficultyMedium, "png")
	if err != nil {
		return nil, err
	}
	return image.Image, nil
}
