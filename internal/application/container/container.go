// Package container provides dependency injection for all singleton services
package container

import (
	"github.com/DropForge/dropforge-go/internal/application/services"
	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/email"
	"github.com/DropForge/dropforge-go/internal/infrastructure/geo"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	persistence "github.com/DropForge/dropforge-go/internal/infrastructure/persistence/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
	"github.com/DropForge/dropforge-go/internal/infrastructure/rendering"
	"github.com/DropForge/dropforge-go/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Infrastructure
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
	DB          *database.DB
	Resolver    *geo.Resolver
	Renderer    *rendering.Renderer
	Mailer      email.Service

	// Repositories
	UserRepo        captcha.UserRepository
	DeviceRepo      captcha.DeviceRepository
	SessionRepo     captcha.SessionRepository
	EnforcementRepo captcha.EnforcementRepository
	ThreatRepo      captcha.ThreatRepository

	// Application services
	FingerprintService  *services.FingerprintService
	RiskService         *services.RiskService
	ChallengeService    *services.ChallengeService
	VerificationService *services.VerificationService
	CollisionService    *services.CollisionService
	BanService          *services.BanService
	CleanupService      *services.CleanupService
}

// NewContainer creates and wires all singleton services. mailer may be nil
// when alerting is not configured.
func NewContainer(db *database.DB, logger *logging.ChanneledLogger, perfTracker *performance.Tracker, mailer email.Service) *Container {
	resolver := geo.NewResolver(logger)
	semaphore := rendering.NewSemaphore(config.RenderConcurrency)
	renderer := rendering.NewRenderer(semaphore, logger)

	userRepo := persistence.NewSQLUserRepository(db, logger)
	deviceRepo := persistence.NewSQLDeviceRepository(db, logger)
	sessionRepo := persistence.NewSQLSessionRepository(db, logger)
	enforcementRepo := persistence.NewSQLEnforcementRepository(db, logger)
	threatRepo := persistence.NewSQLThreatRepository(db, logger)

	fingerprintService := services.NewFingerprintService(logger, perfTracker, deviceRepo)
	riskService := services.NewRiskService(logger, perfTracker, resolver, threatRepo)
	challengeService := services.NewChallengeService(logger, perfTracker, renderer, fingerprintService, riskService, userRepo, deviceRepo, sessionRepo, threatRepo)
	collisionService := services.NewCollisionService(logger, perfTracker, fingerprintService, userRepo)
	banService := services.NewBanService(logger, perfTracker, userRepo, enforcementRepo, mailer)
	verificationService := services.NewVerificationService(logger, perfTracker, sessionRepo, enforcementRepo, fingerprintService, collisionService, banService)
	cleanupService := services.NewCleanupService(logger, perfTracker, sessionRepo)

	return &Container{
		Logger:      logger,
		PerfTracker: perfTracker,
		DB:          db,
		Resolver:    resolver,
		Renderer:    renderer,
		Mailer:      mailer,

		UserRepo:        userRepo,
		DeviceRepo:      deviceRepo,
		SessionRepo:     sessionRepo,
		EnforcementRepo: enforcementRepo,
		ThreatRepo:      threatRepo,

		FingerprintService:  fingerprintService,
		RiskService:         riskService,
		ChallengeService:    challengeService,
		VerificationService: verificationService,
		CollisionService:    collisionService,
		BanService:          banService,
		CleanupService:      cleanupService,
	}
}
