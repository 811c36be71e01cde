package services

import (
	"context"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/DropForge/dropforge-go/pkg/config"
)

// Sessions are unusable the moment their TTL lapses; this worker only
// reclaims storage. Expired rows are retained one extra TTL so audit reads
// shortly after expiry still resolve.
const expiredRetention = 2

// CleanupService periodically deletes long-expired captcha sessions and
// prunes completed performance markers.
type CleanupService struct {
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	sessionRepo captcha.SessionRepository
	interval    time.Duration
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(logger *logging.ChanneledLogger, perfTracker *performance.Tracker, sessionRepo captcha.SessionRepository) *CleanupService {
	return &CleanupService{
		logger:      logger,
		perfTracker: perfTracker,
		sessionRepo: sessionRepo,
		interval:    config.SessionCleanupInterval,
	}
}

// Start launches the cleanup loop. It stops when the context is canceled.
func (c *CleanupService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.System().Info("Session cleanup worker started", "interval", c.interval)

		for {
			select {
			case <-ctx.Done():
				c.logger.System().Info("Session cleanup worker stopped")
				return
			case <-ticker.C:
				c.runOnce()
			}
		}
	}()
}

func (c *CleanupService) runOnce() {
	marker := c.perfTracker.StartOperation("session_cleanup")
	defer marker.Complete()

	cutoff := time.Now().UTC().Add(-time.Duration(expiredRetention) * config.SessionTTL)
	deleted, err := c.sessionRepo.DeleteExpiredBefore(cutoff)
	if err != nil {
		marker.SetError(err)
		c.logger.LogError(logging.ChannelSystem, "session_cleanup", err, nil)
		return
	}

	pruned := c.perfTracker.PruneCompleted(time.Hour)

	marker.SetSuccess(true)
	if deleted > 0 || pruned > 0 {
		c.logger.System().Info("Cleanup pass completed", "sessionsDeleted", deleted, "markersPruned", pruned)
	}
}
