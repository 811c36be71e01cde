package services

import (
	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/geo"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
)

// Weighting of the three risk components in the overall score.
const (
	deviceRiskWeight   = 0.4
	locationRiskWeight = 0.3
	behaviorRiskWeight = 0.3
)

// locationHardGate is the location risk at which session creation is refused
// outright. This is the only pre-session hard gate.
const locationHardGate = 0.9

// RiskService blends device, location, and behavioral risk into a single
// assessment used by adaptive challenge selection and verification.
type RiskService struct {
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	resolver    *geo.Resolver
	threatRepo  captcha.ThreatRepository
}

// NewRiskService creates a new risk assessment service
func NewRiskService(logger *logging.ChanneledLogger, perfTracker *performance.Tracker, resolver *geo.Resolver, threatRepo captcha.ThreatRepository) *RiskService {
	return &RiskService{
		logger:      logger,
		perfTracker: perfTracker,
		resolver:    resolver,
		threatRepo:  threatRepo,
	}
}

// Assess computes the blended risk for a request. It returns
// ErrLocationBlocked when location risk alone crosses the hard gate;
// every other lookup failure degrades to a zero contribution.
func (r *RiskService) Assess(userID string, fp *captcha.Fingerprint, ipAddress, countryHint string) (*captcha.RiskAssessment, error) {
	marker := r.perfTracker.StartOperation("risk_assess")
	defer marker.Complete()

	deviceRisk := 0.5
	if fp != nil {
		deviceRisk = fp.RiskScore
	}

	locationRisk := r.locationRisk(ipAddress, countryHint)
	if locationRisk >= locationHardGate {
		r.logger.Risk().Warn("Location hard gate triggered", "userId", userID, "locationRisk", locationRisk)
		marker.SetSuccess(false)
		return nil, captcha.ErrLocationBlocked
	}

	behaviorRisk := r.behaviorRisk(userID)

	overall := clamp01(deviceRiskWeight*deviceRisk + locationRiskWeight*locationRisk + behaviorRiskWeight*behaviorRisk)

	assessment := &captcha.RiskAssessment{
		DeviceRisk:   deviceRisk,
		LocationRisk: locationRisk,
		BehaviorRisk: behaviorRisk,
		OverallRisk:  overall,
		Level:        LevelForScore(overall),
	}

	marker.SetSuccess(true)
	r.logger.Risk().Debug("Risk assessed",
		"userId", userID,
		"device", deviceRisk,
		"location", locationRisk,
		"behavior", behaviorRisk,
		"overall", overall,
		"level", string(assessment.Level))

	return assessment, nil
}

// locationRisk sums the overlapping geo indicators, then clamps. The
// indicators are not mutually exclusive, so overlapping signals compound
// until the clamp.
func (r *RiskService) locationRisk(ipAddress, countryHint string) float64 {
	lookup := r.resolver.Resolve(ipAddress, countryHint)

	risk := 0.0
	if lookup.BlockedCountry {
		risk += 0.9
	}
	if lookup.SuspiciousCountry {
		risk += 0.3
	}
	if lookup.VPN {
		risk += 0.4
	}
	if lookup.Tor {
		risk += 0.6
	}
	return clamp01(risk)
}

// behaviorRisk averages the threat analyzer's historical indicator scores.
// Accounts without history contribute zero; they are penalized through the
// device and location components only.
func (r *RiskService) behaviorRisk(userID string) float64 {
	indicators, err := r.threatRepo.FindIndicatorsByUser(userID)
	if err != nil {
		r.logger.LogError(logging.ChannelRisk, "behavior_risk", err, map[string]any{"userId": userID})
		return 0.0
	}
	if len(indicators) == 0 {
		return 0.0
	}

	total := 0.0
	for _, indicator := range indicators {
		total += indicator.Score
	}
	return clamp01(total / float64(len(indicators)))
}

// LevelForScore buckets an overall risk score. Boundaries are inclusive on
// the lower bound of each tier.
func LevelForScore(score float64) captcha.RiskLevel {
	switch {
	case score >= 0.8:
		return captcha.RiskCritical
	case score >= 0.6:
		return captcha.RiskHigh
	case score >= 0.4:
		return captcha.RiskMedium
	default:
		return captcha.RiskLow
	}
}
