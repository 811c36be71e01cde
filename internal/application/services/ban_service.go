package services

import (
	"fmt"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/email"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/DropForge/dropforge-go/internal/infrastructure/security"
	"github.com/DropForge/dropforge-go/pkg/config"
)

// BanService turns collision findings into permanent account bans. Banning
// is idempotent: an already-banned account only gets its evidence trail
// refreshed.
type BanService struct {
	logger          *logging.ChanneledLogger
	perfTracker     *performance.Tracker
	userRepo        captcha.UserRepository
	enforcementRepo captcha.EnforcementRepository
	mailer          email.Service
}

// NewBanService creates a new ban enforcement service. mailer may be nil
// when alerting is not configured.
func NewBanService(logger *logging.ChanneledLogger, perfTracker *performance.Tracker, userRepo captcha.UserRepository, enforcementRepo captcha.EnforcementRepository, mailer email.Service) *BanService {
	return &BanService{
		logger:          logger,
		perfTracker:     perfTracker,
		userRepo:        userRepo,
		enforcementRepo: enforcementRepo,
		mailer:          mailer,
	}
}

// Enforce bans every implicated account except the original in each
// collision record. When the triggering user is among the banned, the
// returned error is a BanError naming the original account; the caller must
// propagate it so the user sees an explicit permanent-ban message.
func (b *BanService) Enforce(triggeringUserID string, records []captcha.CollisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	marker := b.perfTracker.StartOperation("ban_enforce")
	defer marker.Complete()

	var triggeringBan *captcha.BanError

	for _, record := range records {
		for _, userID := range record.UserIDs {
			if userID == record.OriginalUserID {
				continue
			}
			if err := b.banAccount(userID, record); err != nil {
				marker.SetError(err)
				return err
			}
			if userID == triggeringUserID {
				triggeringBan = &captcha.BanError{UserID: userID, OriginalUserID: record.OriginalUserID}
			}
		}
	}

	marker.SetSuccess(true)
	if triggeringBan != nil {
		return triggeringBan
	}
	return nil
}

// banAccount applies a single ban: status flip, ban record, encrypted
// incident, operator alert. Re-banning only refreshes the evidence trail.
func (b *BanService) banAccount(userID string, record captcha.CollisionRecord) error {
	user, err := b.userRepo.FindByID(userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s for ban: %w", userID, err)
	}
	if user == nil {
		return fmt.Errorf("ban target %s not found", userID)
	}

	reason := fmt.Sprintf("Duplicate device fingerprint of account %s (%s, confidence %.2f)",
		record.OriginalUserID, record.Type, record.Confidence)

	alreadyBanned := user.Banned()
	if !alreadyBanned {
		if err := b.userRepo.UpdateStatus(userID, captcha.StatusBanned, reason); err != nil {
			return fmt.Errorf("failed to update status for %s: %w", userID, err)
		}
	}

	banRecord := &captcha.BanRecord{
		ID:        security.GenerateULID(),
		UserID:    userID,
		Reason:    reason,
		Severity:  "critical",
		Evidence:  []captcha.CollisionRecord{record},
		IssuedBy:  captcha.IssuerSystemAutoDetection,
		CreatedAt: time.Now().UTC(),
	}

	if !alreadyBanned {
		if err := b.enforcementRepo.SaveBanRecord(banRecord); err != nil {
			return fmt.Errorf("failed to save ban record for %s: %w", userID, err)
		}
	}

	// The incident is written on every detection so repeat hits keep the
	// evidence trail current.
	incident := b.buildIncident(userID, record)
	if err := b.enforcementRepo.SaveIncident(incident); err != nil {
		return fmt.Errorf("failed to save security incident for %s: %w", userID, err)
	}

	b.logger.Ban().Warn("Account banned for fingerprint collision",
		"userId", userID,
		"originalUserId", record.OriginalUserID,
		"collisionType", string(record.Type),
		"confidence", record.Confidence,
		"repeat", alreadyBanned)

	if b.mailer != nil && !alreadyBanned {
		if err := b.mailer.SendBanAlert(banRecord); err != nil {
			b.logger.LogError(logging.ChannelMail, "ban_alert", err, map[string]any{"userId": userID})
		}
	}

	return nil
}

// buildIncident encrypts the collision evidence at rest. With no key
// configured the evidence is stored as plain JSON.
func (b *BanService) buildIncident(userID string, record captcha.CollisionRecord) *captcha.SecurityIncident {
	payload, err := captcha.MarshalCollisionRecord(record)
	if err != nil {
		payload = []byte("{}")
	}

	evidence := string(payload)
	if config.AESEncryptionKey != "" {
		encrypted, encErr := security.Encrypt(evidence, config.AESEncryptionKey)
		if encErr != nil {
			b.logger.LogError(logging.ChannelBan, "incident_encrypt", encErr, map[string]any{"userId": userID})
		} else {
			evidence = encrypted
		}
	}

	return &captcha.SecurityIncident{
		ID:                security.GenerateULID(),
		Kind:              "fingerprint_collision",
		UserID:            userID,
		Severity:          "critical",
		Summary:           fmt.Sprintf("%s collision with %d accounts, original %s", record.Type, len(record.UserIDs), record.OriginalUserID),
		EncryptedEvidence: evidence,
		CreatedAt:         time.Now().UTC(),
	}
}
