package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
)

// Confidence attached to each collision check. Exact hash equality is
// definitive; the sub-fingerprint checks tolerate slightly more false
// positives.
const (
	exactMatchConfidence    = 1.0
	canvasMatchConfidence   = 0.99
	hardwareMatchConfidence = 0.97
)

// CollisionService compares the current device against all fingerprints on
// record to find accounts sharing a device. A storage or generation failure
// is inconclusive, never a ban.
type CollisionService struct {
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
	fingerprints *FingerprintService
	userRepo     captcha.UserRepository
}

// NewCollisionService creates a new collision detection service
func NewCollisionService(logger *logging.ChanneledLogger, perfTracker *performance.Tracker, fingerprints *FingerprintService, userRepo captcha.UserRepository) *CollisionService {
	return &CollisionService{
		logger:       logger,
		perfTracker:  perfTracker,
		fingerprints: fingerprints,
		userRepo:     userRepo,
	}
}

// Detect runs the three collision checks for the given user and device
// payload. Records are de-duplicated by the sorted set of implicated user
// IDs; the earliest-registered account in each set is named the original.
func (c *CollisionService) Detect(userID string, data *captcha.DeviceData) ([]captcha.CollisionRecord, error) {
	marker := c.perfTracker.StartOperation("collision_detect")
	defer marker.Complete()

	fp := c.fingerprints.Generate(userID, data)
	if fp.Fallback {
		// Nothing trustworthy to compare against.
		c.logger.Collision().Warn("Collision check skipped on fallback fingerprint", "userId", userID)
		marker.SetSuccess(false)
		return nil, nil
	}

	self, err := c.userRepo.FindByID(userID)
	if err != nil {
		marker.SetError(err)
		c.logger.LogError(logging.ChannelCollision, "collision_self_lookup", err, map[string]any{"userId": userID})
		return nil, fmt.Errorf("collision self lookup failed: %w", err)
	}
	if self == nil {
		marker.SetSuccess(false)
		return nil, fmt.Errorf("collision check for unknown user %s", userID)
	}

	type check struct {
		collisionType captcha.CollisionType
		confidence    float64
		lookup        func() ([]*captcha.Account, error)
	}

	checks := []check{
		{captcha.CollisionExactMatch, exactMatchConfidence, func() ([]*captcha.Account, error) {
			return c.userRepo.FindByDeviceHash(fp.Hash)
		}},
		{captcha.CollisionCanvasMatch, canvasMatchConfidence, func() ([]*captcha.Account, error) {
			if fp.CanvasHash == "" {
				return nil, nil
			}
			return c.userRepo.FindByCanvasFingerprint(fp.CanvasHash)
		}},
		{captcha.CollisionHardwareMatch, hardwareMatchConfidence, func() ([]*captcha.Account, error) {
			return c.userRepo.FindByHardwareSignature(fp.HardwareSignature)
		}},
	}

	seen := make(map[string]bool)
	var records []captcha.CollisionRecord

	for _, chk := range checks {
		accounts, err := chk.lookup()
		if err != nil {
			marker.SetError(err)
			c.logger.LogError(logging.ChannelCollision, "collision_lookup", err, map[string]any{
				"userId": userID,
				"type":   string(chk.collisionType),
			})
			return nil, fmt.Errorf("collision lookup (%s) failed: %w", chk.collisionType, err)
		}

		implicated := implicatedSet(self, accounts)
		if len(implicated) < 2 {
			continue
		}

		ids := make([]string, 0, len(implicated))
		for id := range implicated {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		key := strings.Join(ids, ",")
		if seen[key] {
			continue
		}
		seen[key] = true

		records = append(records, captcha.CollisionRecord{
			Type:           chk.collisionType,
			Confidence:     chk.confidence,
			UserIDs:        ids,
			OriginalUserID: earliestRegistered(implicated),
			Evidence:       buildEvidence(data, fp),
			DetectedAt:     time.Now().UTC(),
		})
	}

	marker.SetSuccess(true)
	if len(records) > 0 {
		c.logger.Collision().Warn("Fingerprint collision detected",
			"userId", userID,
			"collisions", len(records),
			"type", string(records[0].Type))
	}

	return records, nil
}

// implicatedSet collects the distinct accounts sharing the component,
// including the triggering user.
func implicatedSet(self *captcha.Account, accounts []*captcha.Account) map[string]*captcha.Account {
	set := make(map[string]*captcha.Account, len(accounts)+1)
	for _, account := range accounts {
		set[account.ID] = account
	}
	set[self.ID] = self
	return set
}

// earliestRegistered names the original account among the implicated set.
// Ties break on the lexically smaller ID so the result is deterministic.
func earliestRegistered(implicated map[string]*captcha.Account) string {
	original := ""
	var earliest time.Time
	for id, account := range implicated {
		if original == "" || account.RegisteredAt.Before(earliest) ||
			(account.RegisteredAt.Equal(earliest) && id < original) {
			original = id
			earliest = account.RegisteredAt
		}
	}
	return original
}

func buildEvidence(data *captcha.DeviceData, fp *captcha.Fingerprint) captcha.CollisionEvidence {
	evidence := captcha.CollisionEvidence{
		HardwareSignature: fp.HardwareSignature,
	}
	if data != nil {
		evidence.IPAddress = data.Network.IPAddress
		evidence.UserAgent = data.Browser.UserAgent
		evidence.Platform = data.Hardware.Platform
		evidence.ScreenResolution = fmt.Sprintf("%dx%d", data.Hardware.ScreenWidth, data.Hardware.ScreenHeight)
	}
	return evidence
}
