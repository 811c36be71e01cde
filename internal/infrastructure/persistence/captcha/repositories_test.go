package captcha

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*database.DB, *logging.ChanneledLogger) {
	t.Helper()

	cfg := logging.DefaultLoggerConfig()
	cfg.OutputToFile = false
	cfg.OutputToConsole = false
	cfg.DefaultLevel = slog.Level(12)
	logger, err := logging.NewChanneledLogger(cfg)
	require.NoError(t, err)

	db, err := database.NewConnection("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewTableCreator().CreateSchema(db.DB))
	return db, logger
}

func seedUser(t *testing.T, db *database.DB, id string, telegramID int64, registeredAt time.Time) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO users (id, telegram_id, username, status, registered_at) VALUES (?, ?, ?, 'active', ?)`,
		id, telegramID, "user_"+id, registeredAt.UTC().Format(time.RFC3339),
	)
	require.NoError(t, err)
}

func TestSessionRepositoryRoundTrip(t *testing.T) {
	db, logger := newTestDB(t)
	repo := NewSQLSessionRepository(db, logger)
	seedUser(t, db, "u1", 1001, time.Now().UTC())

	now := time.Now().UTC().Truncate(time.Second)
	session := &captcha.Session{
		ID:     "sess-1",
		UserID: "u1",
		Type:   captcha.TypeTextImage,
		Challenge: captcha.Challenge{
			Type:       captcha.TypeTextImage,
			Difficulty: captcha.DifficultyMedium,
			Prompt:     "Enter the characters shown in the image",
		},
		Answer:          "7K2Q9",
		MaxAttempts:     3,
		CreatedAt:       now,
		ExpiresAt:       now.Add(5 * time.Minute),
		FingerprintHash: "hash-abc",
		IPAddress:       "203.0.113.7",
		Metadata: captcha.SessionMetadata{
			BotScore:        0.2,
			SelectionReason: "text-image kept at medium risk",
			Risk:            captcha.RiskAssessment{OverallRisk: 0.45, Level: captcha.RiskMedium},
		},
	}
	require.NoError(t, repo.Save(session))

	loaded, err := repo.FindByID("sess-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, session.UserID, loaded.UserID)
	assert.Equal(t, captcha.TypeTextImage, loaded.Type)
	assert.Equal(t, captcha.DifficultyMedium, loaded.Challenge.Difficulty)
	assert.Equal(t, "7K2Q9", loaded.Answer)
	assert.Equal(t, "hash-abc", loaded.FingerprintHash)
	assert.Equal(t, "203.0.113.7", loaded.IPAddress)
	assert.Equal(t, captcha.RiskMedium, loaded.Metadata.Risk.Level)
	assert.InDelta(t, 0.45, loaded.Metadata.Risk.OverallRisk, 0.0001)
	assert.True(t, loaded.ExpiresAt.Equal(session.ExpiresAt))
	assert.Nil(t, loaded.CompletedAt)

	completed := now.Add(time.Minute)
	loaded.Attempts = 1
	loaded.CompletedAt = &completed
	require.NoError(t, repo.Update(loaded))

	reloaded, err := repo.FindByID("sess-1")
	require.NoError(t, err)
	require.NotNil(t, reloaded.CompletedAt)
	assert.Equal(t, 1, reloaded.Attempts)
	assert.True(t, reloaded.CompletedAt.Equal(completed))
}

func TestSessionRepositoryInteractiveCategory(t *testing.T) {
	db, logger := newTestDB(t)
	repo := NewSQLSessionRepository(db, logger)
	seedUser(t, db, "u1", 1001, time.Now().UTC())

	now := time.Now().UTC().Truncate(time.Second)
	session := &captcha.Session{
		ID:     "sess-int",
		UserID: "u1",
		Type:   captcha.TypeInteractive,
		Challenge: captcha.Challenge{
			Type:        captcha.TypeInteractive,
			Difficulty:  captcha.DifficultyHard,
			Prompt:      "Select all squares containing buses",
			Interactive: &captcha.InteractiveChallenge{Category: "buses", GridSize: 9},
		},
		Answer:      "interactive-buses",
		MaxAttempts: 2,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	require.NoError(t, repo.Save(session))

	loaded, err := repo.FindByID("sess-int")
	require.NoError(t, err)
	require.NotNil(t, loaded.Challenge.Interactive)
	assert.Equal(t, "buses", loaded.Challenge.Interactive.Category)
	assert.Equal(t, 9, loaded.Challenge.Interactive.GridSize)
}

func TestSessionRepositoryNotFound(t *testing.T) {
	db, logger := newTestDB(t)
	repo := NewSQLSessionRepository(db, logger)

	session, err := repo.FindByID("missing")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestSessionRepositoryFailureCounts(t *testing.T) {
	db, logger := newTestDB(t)
	repo := NewSQLSessionRepository(db, logger)
	seedUser(t, db, "u1", 1001, time.Now().UTC())

	now := time.Now().UTC()
	save := func(id string, success bool, createdAt time.Time) {
		require.NoError(t, repo.SaveResult(&captcha.VerificationRecord{
			ID: id, SessionID: "s", UserID: "u1", IPAddress: "203.0.113.7",
			Success: success, Confidence: 0.4, CreatedAt: createdAt,
		}))
	}

	save("r1", false, now.Add(-10*time.Minute))
	save("r2", false, now.Add(-20*time.Minute))
	save("r3", true, now.Add(-5*time.Minute))
	save("r4", false, now.Add(-2*time.Hour)) // outside the window

	count, err := repo.CountFailuresByUser("u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.CountFailuresByIP("203.0.113.7", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSessionRepositoryDeleteExpired(t *testing.T) {
	db, logger := newTestDB(t)
	repo := NewSQLSessionRepository(db, logger)
	seedUser(t, db, "u1", 1001, time.Now().UTC())

	now := time.Now().UTC().Truncate(time.Second)
	makeSession := func(id string, expiresAt time.Time, completedAt *time.Time) {
		require.NoError(t, repo.Save(&captcha.Session{
			ID:          id,
			UserID:      "u1",
			Type:        captcha.TypeTextImage,
			Challenge:   captcha.Challenge{Type: captcha.TypeTextImage, Difficulty: captcha.DifficultyEasy, Prompt: "p"},
			Answer:      "AB3F",
			MaxAttempts: 3,
			CreatedAt:   now.Add(-time.Hour),
			ExpiresAt:   expiresAt,
			CompletedAt: completedAt,
		}))
	}

	done := now.Add(-30 * time.Minute)
	makeSession("stale", now.Add(-20*time.Minute), nil)
	makeSession("live", now.Add(5*time.Minute), nil)
	makeSession("finished", now.Add(-20*time.Minute), &done)

	deleted, err := repo.DeleteExpiredBefore(now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// Completed sessions survive cleanup so late re-polls stay idempotent.
	finished, err := repo.FindByID("finished")
	require.NoError(t, err)
	assert.NotNil(t, finished)

	live, err := repo.FindByID("live")
	require.NoError(t, err)
	assert.NotNil(t, live)
}

func TestUserRepositoryStatusAndLookups(t *testing.T) {
	db, logger := newTestDB(t)
	users := NewSQLUserRepository(db, logger)
	devices := NewSQLDeviceRepository(db, logger)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedUser(t, db, "u1", 1001, base)
	seedUser(t, db, "u2", 1002, base.Add(time.Hour))

	missing, err := users.FindByID("ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	account, err := users.FindByID("u1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, int64(1001), account.TelegramID)
	assert.False(t, account.Banned())

	require.NoError(t, users.UpdateStatus("u2", captcha.StatusBanned, "duplicate device"))
	banned, err := users.FindByID("u2")
	require.NoError(t, err)
	assert.True(t, banned.Banned())
	assert.Equal(t, "duplicate device", banned.StatusReason)

	// Two accounts sharing a fingerprint hash surface through the join.
	fp := &captcha.Fingerprint{
		Hash: "shared-hash", CanvasHash: "canvas-1", HardwareSignature: "hw-1",
		Quality: 0.9, RiskScore: 0.1, CreatedAt: base,
	}
	require.NoError(t, devices.Save("u1", fp))
	require.NoError(t, devices.Save("u2", fp))

	matches, err := users.FindByDeviceHash("shared-hash")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches, err = users.FindByHardwareSignature("hw-1")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = users.FindByDeviceHash("unknown")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDeviceRepositoryLatest(t *testing.T) {
	db, logger := newTestDB(t)
	devices := NewSQLDeviceRepository(db, logger)
	seedUser(t, db, "u1", 1001, time.Now().UTC())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, devices.Save("u1", &captcha.Fingerprint{
		Hash: "old-hash", Quality: 0.5, RiskScore: 0.3, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, devices.Save("u1", &captcha.Fingerprint{
		Hash: "new-hash", CanvasHash: "canvas-2", Quality: 0.9, RiskScore: 0.1, CreatedAt: now,
	}))

	latest, err := devices.FindLatestByUserID("u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new-hash", latest.Hash)
	assert.Equal(t, "canvas-2", latest.CanvasHash)

	none, err := devices.FindLatestByUserID("ghost")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEnforcementRepositoryRoundTrip(t *testing.T) {
	db, logger := newTestDB(t)
	repo := NewSQLEnforcementRepository(db, logger)
	seedUser(t, db, "u1", 1001, time.Now().UTC())

	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.AddUserBlock(&captcha.UserBlock{
		ID: "blk-1", UserID: "u1", Reason: "3 captcha failures",
		CreatedAt: now, ExpiresAt: now.Add(45 * time.Minute),
	}))
	blocks, err := repo.FindUserBlocks("u1")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Active(now))
	assert.False(t, blocks[0].Active(now.Add(time.Hour)))

	require.NoError(t, repo.AddIPBlock(&captcha.IPBlock{
		ID: "ipb-1", IPAddress: "203.0.113.7", Reason: "10 captcha failures",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	ipBlocks, err := repo.FindIPBlocks("203.0.113.7")
	require.NoError(t, err)
	assert.Len(t, ipBlocks, 1)

	ban := &captcha.BanRecord{
		ID: "ban-1", UserID: "u1",
		Reason:   "Duplicate device fingerprint of account u0 (exact_match, confidence 1.00)",
		Severity: "critical",
		Evidence: []captcha.CollisionRecord{{
			Type: captcha.CollisionExactMatch, Confidence: 1.0,
			UserIDs: []string{"u0", "u1"}, OriginalUserID: "u0", DetectedAt: now,
			Evidence: captcha.CollisionEvidence{
				IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0",
				HardwareSignature: "Win32|8|8|1920x1080", Platform: "Win32",
			},
		}},
		IssuedBy:  captcha.IssuerSystemAutoDetection,
		CreatedAt: now,
	}
	require.NoError(t, repo.SaveBanRecord(ban))

	bans, err := repo.FindBanRecordsByUser("u1")
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, captcha.IssuerSystemAutoDetection, bans[0].IssuedBy)
	require.Len(t, bans[0].Evidence, 1)
	assert.Equal(t, "u0", bans[0].Evidence[0].OriginalUserID)
	assert.Equal(t, "203.0.113.7", bans[0].Evidence[0].Evidence.IPAddress)
	assert.Equal(t, "Win32|8|8|1920x1080", bans[0].Evidence[0].Evidence.HardwareSignature)

	require.NoError(t, repo.SaveIncident(&captcha.SecurityIncident{
		ID: "inc-1", Kind: "fingerprint_collision", UserID: "u1",
		Severity: "critical", Summary: "exact_match collision with 2 accounts, original u0",
		EncryptedEvidence: "ciphertext", CreatedAt: now,
	}))
	incidents, err := repo.FindRecentIncidents(10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "fingerprint_collision", incidents[0].Kind)
}

func TestThreatRepositoryEmpty(t *testing.T) {
	db, logger := newTestDB(t)
	repo := NewSQLThreatRepository(db, logger)
	seedUser(t, db, "u1", 1001, time.Now().UTC())

	indicators, err := repo.FindIndicatorsByUser("u1")
	require.NoError(t, err)
	assert.Empty(t, indicators)
}
