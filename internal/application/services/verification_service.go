package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/DropForge/dropforge-go/internal/infrastructure/security"
	"github.com/DropForge/dropforge-go/pkg/config"
)

// Quality component weights. All five must be computed before the overall
// score has meaning.
const (
	fingerprintQualityWeight = 0.25
	deviceConsistencyWeight  = 0.25
	behavioralScoreWeight    = 0.20
	timingAnalysisWeight     = 0.15
	interactionPatternWeight = 0.15
)

// acceptanceThreshold is the per-risk-level bar a submission must clear.
type acceptanceThreshold struct {
	quality     float64
	consistency float64
	secondary   bool
}

var acceptanceThresholds = map[captcha.RiskLevel]acceptanceThreshold{
	captcha.RiskCritical: {quality: 0.8, consistency: 0.9, secondary: true},
	captcha.RiskHigh:     {quality: 0.7, consistency: 0.8, secondary: true},
	captcha.RiskMedium:   {quality: 0.5, consistency: 0.6},
	captcha.RiskLow:      {quality: 0.3, consistency: 0.5},
}

// VerificationService evaluates captcha submissions: answer correctness,
// quality metrics, suspicion heuristics, and the collision/ban pipeline for
// interactive challenges.
type VerificationService struct {
	logger          *logging.ChanneledLogger
	perfTracker     *performance.Tracker
	sessionRepo     captcha.SessionRepository
	enforcementRepo captcha.EnforcementRepository
	fingerprints    *FingerprintService
	collisions      *CollisionService
	bans            *BanService
}

// NewVerificationService creates a new verification service
func NewVerificationService(
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
	sessionRepo captcha.SessionRepository,
	enforcementRepo captcha.EnforcementRepository,
	fingerprints *FingerprintService,
	collisions *CollisionService,
	bans *BanService,
) *VerificationService {
	return &VerificationService{
		logger:          logger,
		perfTracker:     perfTracker,
		sessionRepo:     sessionRepo,
		enforcementRepo: enforcementRepo,
		fingerprints:    fingerprints,
		collisions:      collisions,
		bans:            bans,
	}
}

// Verify evaluates a submitted answer against the session. Terminal
// conditions (missing, expired, attempts exhausted, rate limited, banned)
// surface as taxonomy errors; internal computation failures degrade to
// conservative defaults instead.
func (v *VerificationService) Verify(sessionID, answer string, data *captcha.DeviceData, timeTaken time.Duration) (*captcha.VerificationResult, error) {
	marker := v.perfTracker.StartOperation("captcha_verify")
	defer marker.Complete()

	start := time.Now()

	session, err := v.sessionRepo.FindByID(sessionID)
	if err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		marker.SetSuccess(false)
		return nil, captcha.ErrSessionNotFound
	}

	// Re-verifying a completed session is a no-op: no attempt increment, no
	// collision re-check, no ban side effects.
	if session.Completed() {
		marker.SetSuccess(true)
		return &captcha.VerificationResult{
			Success:    true,
			Confidence: 1.0,
			Attempts:   session.Attempts,
		}, nil
	}

	now := time.Now().UTC()
	if session.Expired(now) {
		marker.SetSuccess(false)
		return nil, captcha.ErrSessionExpired
	}
	if session.Attempts >= session.MaxAttempts {
		marker.SetSuccess(false)
		return nil, captcha.ErrAttemptsExceeded
	}

	if err := v.checkBlocks(session, now); err != nil {
		marker.SetSuccess(false)
		return nil, err
	}

	session.Attempts++
	if err := v.sessionRepo.Update(session); err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	consistency := 1.0
	if session.Type == captcha.TypeInteractive {
		fp := v.fingerprints.Generate(session.UserID, data)
		consistency = v.fingerprints.Consistency(session.UserID, session.FingerprintHash, fp)
	}

	metrics := computeQuality(session, data, consistency, timeTaken)
	suspicious := suspiciousActivity(session, data, metrics, timeTaken)
	answerCorrect := checkAnswer(session, answer)

	threshold := acceptanceThresholds[session.Metadata.Risk.Level]
	success := answerCorrect &&
		metrics.Overall >= threshold.quality &&
		!suspicious &&
		consistency >= threshold.consistency &&
		(!threshold.secondary || secondaryCheck(metrics, timeTaken))

	if success {
		session.CompletedAt = &now
		if err := v.sessionRepo.Update(session); err != nil {
			marker.SetError(err)
			return nil, fmt.Errorf("failed to complete session: %w", err)
		}
	}

	record := &captcha.VerificationRecord{
		ID:         security.GenerateULID(),
		SessionID:  session.ID,
		UserID:     session.UserID,
		IPAddress:  session.IPAddress,
		Success:    success,
		Suspicious: suspicious,
		Confidence: metrics.Overall,
		CreatedAt:  now,
	}
	if err := v.sessionRepo.SaveResult(record); err != nil {
		v.logger.LogError(logging.ChannelCaptcha, "save_result", err, map[string]any{"sessionId": session.ID})
	}

	if !success {
		v.applyFailurePenalties(session, now)
	}

	result := &captcha.VerificationResult{
		Success:            success,
		Confidence:         metrics.Overall,
		Attempts:           session.Attempts,
		SuspiciousActivity: suspicious,
	}

	// The interactive path carries the real security payload: full device
	// data feeds the multi-account collision checks.
	if session.Type == captcha.TypeInteractive && data != nil {
		if banErr := v.runCollisionPipeline(session.UserID, data); banErr != nil {
			marker.SetSuccess(false)
			return nil, banErr
		}
	}

	marker.SetSuccess(success)
	v.logger.LogVerification(session.ID, session.UserID, success, suspicious, metrics.Overall, time.Since(start))

	return result, nil
}

// checkBlocks enforces active user and IP rate-limit blocks. Lookup errors
// degrade open; a broken enforcement store must not lock out all users.
func (v *VerificationService) checkBlocks(session *captcha.Session, now time.Time) error {
	userBlocks, err := v.enforcementRepo.FindUserBlocks(session.UserID)
	if err != nil {
		v.logger.LogError(logging.ChannelCaptcha, "user_block_lookup", err, map[string]any{"userId": session.UserID})
	} else {
		for _, block := range userBlocks {
			if block.Active(now) {
				return &captcha.RateLimitError{RetryAfter: block.ExpiresAt.Sub(now), Scope: "user"}
			}
		}
	}

	if session.IPAddress == "" {
		return nil
	}
	ipBlocks, err := v.enforcementRepo.FindIPBlocks(session.IPAddress)
	if err != nil {
		v.logger.LogError(logging.ChannelCaptcha, "ip_block_lookup", err, nil)
		return nil
	}
	for _, block := range ipBlocks {
		if block.Active(now) {
			return &captcha.RateLimitError{RetryAfter: block.ExpiresAt.Sub(now), Scope: "ip"}
		}
	}
	return nil
}

// runCollisionPipeline detects collisions and enforces bans. Infrastructure
// failures are inconclusive: logged, never a ban. Only a BanError escapes.
func (v *VerificationService) runCollisionPipeline(userID string, data *captcha.DeviceData) error {
	records, err := v.collisions.Detect(userID, data)
	if err != nil {
		v.logger.LogError(logging.ChannelCollision, "collision_detect", err, map[string]any{"userId": userID})
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	if err := v.bans.Enforce(userID, records); err != nil {
		if banErr, ok := err.(*captcha.BanError); ok {
			return banErr
		}
		v.logger.LogError(logging.ChannelBan, "ban_enforce", err, map[string]any{"userId": userID})
	}
	return nil
}

// applyFailurePenalties records the rate-limit side effects of a failed
// attempt. Both counters include the failure just saved.
func (v *VerificationService) applyFailurePenalties(session *captcha.Session, now time.Time) {
	userFailures, err := v.sessionRepo.CountFailuresByUser(session.UserID, now.Add(-config.UserFailureWindow))
	if err != nil {
		v.logger.LogError(logging.ChannelCaptcha, "count_user_failures", err, map[string]any{"userId": session.UserID})
	} else if userFailures >= config.UserFailureThreshold && session.Metadata.Risk.Level != captcha.RiskLow {
		duration := blockDurationFor(session.Metadata.Risk.OverallRisk)
		block := &captcha.UserBlock{
			ID:        security.GenerateULID(),
			UserID:    session.UserID,
			Reason:    fmt.Sprintf("%d captcha failures within %s", userFailures, config.UserFailureWindow),
			CreatedAt: now,
			ExpiresAt: now.Add(duration),
		}
		if err := v.enforcementRepo.AddUserBlock(block); err != nil {
			v.logger.LogError(logging.ChannelCaptcha, "add_user_block", err, map[string]any{"userId": session.UserID})
		} else {
			v.logger.Captcha().Warn("User temporarily blocked", "userId", session.UserID, "duration", duration)
		}
	}

	if session.IPAddress == "" {
		return
	}
	ipFailures, err := v.sessionRepo.CountFailuresByIP(session.IPAddress, now.Add(-config.IPFailureWindow))
	if err != nil {
		v.logger.LogError(logging.ChannelCaptcha, "count_ip_failures", err, nil)
		return
	}
	if ipFailures >= config.IPFailureThreshold {
		block := &captcha.IPBlock{
			ID:        security.GenerateULID(),
			IPAddress: session.IPAddress,
			Reason:    fmt.Sprintf("%d captcha failures within %s", ipFailures, config.IPFailureWindow),
			CreatedAt: now,
			ExpiresAt: now.Add(config.IPBlockDuration),
		}
		if err := v.enforcementRepo.AddIPBlock(block); err != nil {
			v.logger.LogError(logging.ChannelCaptcha, "add_ip_block", err, nil)
		} else {
			v.logger.Captcha().Warn("IP temporarily blocked", "duration", config.IPBlockDuration)
		}
	}
}

// blockDurationFor scales the user block between 30 and 60 minutes with the
// overall risk score.
func blockDurationFor(overallRisk float64) time.Duration {
	return 30*time.Minute + time.Duration(clamp01(overallRisk)*float64(30*time.Minute))
}

// checkAnswer compares the submission against the expected answer.
// Text-image answers are case-insensitive, whitespace-trimmed exact matches.
// Interactive answers pass on category containment; the real signal for that
// type comes from device consistency and collision checks.
func checkAnswer(session *captcha.Session, answer string) bool {
	submitted := strings.TrimSpace(answer)

	if session.Type == captcha.TypeInteractive {
		category := strings.TrimPrefix(session.Answer, "interactive-")
		return category != "" && strings.Contains(strings.ToLower(submitted), strings.ToLower(category))
	}

	return strings.EqualFold(submitted, strings.TrimSpace(session.Answer))
}

// computeQuality derives the five-component quality metrics for a
// submission.
func computeQuality(session *captcha.Session, data *captcha.DeviceData, consistency float64, timeTaken time.Duration) captcha.QualityMetrics {
	metrics := captcha.QualityMetrics{
		FingerprintQuality: 0.1,
		DeviceConsistency:  consistency,
		BehavioralScore:    behavioralScore(data, session.Metadata.BotScore),
		TimingAnalysis:     timingAnalysis(session.Type, session.Challenge.Difficulty, timeTaken),
		InteractionPattern: interactionPattern(timeTaken, session.Attempts),
	}
	if session.FingerprintHash != "" {
		metrics.FingerprintQuality = 0.9
	}

	metrics.Overall = clamp01(fingerprintQualityWeight*metrics.FingerprintQuality +
		deviceConsistencyWeight*metrics.DeviceConsistency +
		behavioralScoreWeight*metrics.BehavioralScore +
		timingAnalysisWeight*metrics.TimingAnalysis +
		interactionPatternWeight*metrics.InteractionPattern)

	return metrics
}

// expectedDuration is the lookup table of plausible solve times by challenge
// shape.
func expectedDuration(challengeType captcha.ChallengeType, difficulty captcha.Difficulty) time.Duration {
	if challengeType == captcha.TypeInteractive {
		switch difficulty {
		case captcha.DifficultyHard:
			return 30 * time.Second
		case captcha.DifficultyMedium:
			return 20 * time.Second
		default:
			return 15 * time.Second
		}
	}
	switch difficulty {
	case captcha.DifficultyHard:
		return 15 * time.Second
	case captcha.DifficultyMedium:
		return 10 * time.Second
	default:
		return 8 * time.Second
	}
}

func timingAnalysis(challengeType captcha.ChallengeType, difficulty captcha.Difficulty, timeTaken time.Duration) float64 {
	expected := expectedDuration(challengeType, difficulty).Seconds()
	actual := timeTaken.Seconds()
	deviation := actual - expected
	if deviation < 0 {
		deviation = -deviation
	}
	return clamp01(1.0 - deviation/expected)
}

// behavioralScore rewards plausible device posture and penalizes the
// client-side bot score.
func behavioralScore(data *captcha.DeviceData, botScore float64) float64 {
	score := 0.5
	if data != nil {
		if plausibleScreen(data.Hardware.ScreenWidth, data.Hardware.ScreenHeight) {
			score += 0.1
		}
		if data.Browser.TimezoneOffset >= -720 && data.Browser.TimezoneOffset <= 840 {
			score += 0.1
		}
		if data.Browser.CookiesEnabled {
			score += 0.1
		}
		if data.Hardware.TouchSupport == data.Browser.ClaimsMobile {
			score += 0.1
		}
	}
	score -= 0.3 * botScore
	return clamp01(score)
}

// interactionPattern penalizes implausibly fast or slow completions and
// extra attempts.
func interactionPattern(timeTaken time.Duration, attempts int) float64 {
	score := 0.7

	switch {
	case timeTaken < time.Second:
		score -= 0.4
	case timeTaken < 3*time.Second:
		score -= 0.2
	}

	switch {
	case timeTaken > 120*time.Second:
		score -= 0.3
	case timeTaken > 60*time.Second:
		score -= 0.1
	}

	if attempts > 1 {
		score -= 0.1 * float64(attempts-1)
	}

	return clamp01(score)
}

// suspiciousActivity requires at least two corroborating signals before
// flagging; any single indicator alone is tolerated.
func suspiciousActivity(session *captcha.Session, data *captcha.DeviceData, metrics captcha.QualityMetrics, timeTaken time.Duration) bool {
	signals := 0
	if timeTaken < 500*time.Millisecond {
		signals++
	}
	if metrics.Overall > 0.98 {
		signals++
	}
	if metrics.DeviceConsistency < 0.5 {
		signals++
	}
	botScore := session.Metadata.BotScore
	if data != nil && data.Behavior.BotScore > botScore {
		botScore = data.Behavior.BotScore
	}
	if botScore > 0.8 {
		signals++
	}
	if len(session.Metadata.ThreatIndicators) > 2 {
		signals++
	}
	return signals >= 2
}

// secondaryCheck is the extra bar for high and critical risk: a minimum
// solve time plus a behavior re-check.
func secondaryCheck(metrics captcha.QualityMetrics, timeTaken time.Duration) bool {
	return timeTaken >= 2*time.Second && metrics.BehavioralScore >= 0.45
}
