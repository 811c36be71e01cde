// Package captcha provides the concrete SQL-based implementations of
// the risk-engine repositories (sessions, users, devices, enforcement).
package captcha

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
)

// SQLSessionRepository is the SQL-based implementation of the SessionRepository.
type SQLSessionRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLSessionRepository creates a new instance of the repository.
func NewSQLSessionRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLSessionRepository {
	return &SQLSessionRepository{
		db:     db,
		logger: logger,
	}
}

// Save persists a new captcha session. The rendered image bytes are not
// stored; only the challenge descriptor survives the round trip.
func (r *SQLSessionRepository) Save(session *captcha.Session) error {
	const query = `
		INSERT INTO captcha_sessions (id, user_id, challenge_type, difficulty, prompt, category, answer, attempts, max_attempts, created_at, expires_at, completed_at, fingerprint_hash, ip_address, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing captcha session insert", "id", session.ID, "userId", session.UserID)

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return err
	}

	var category sql.NullString
	if session.Challenge.Interactive != nil {
		category = sql.NullString{String: session.Challenge.Interactive.Category, Valid: true}
	}

	var completedAt sql.NullString
	if session.CompletedAt != nil {
		completedAt = sql.NullString{String: session.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err = r.db.Exec(
		query,
		session.ID,
		session.UserID,
		string(session.Type),
		string(session.Challenge.Difficulty),
		session.Challenge.Prompt,
		category,
		session.Answer,
		session.Attempts,
		session.MaxAttempts,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.ExpiresAt.UTC().Format(time.RFC3339),
		completedAt,
		nullable(session.FingerprintHash),
		nullable(session.IPAddress),
		string(metadata),
	)
	if err != nil {
		r.logger.Database().Error("Captcha session insert failed", "error", err.Error(), "id", session.ID)
		return err
	}

	r.logger.Database().Info("Captcha session insert completed", "id", session.ID, "duration", time.Since(start))
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindByID retrieves a session by its unique identifier.
func (r *SQLSessionRepository) FindByID(id string) (*captcha.Session, error) {
	const query = `
		SELECT id, user_id, challenge_type, difficulty, prompt, category, answer, attempts, max_attempts, created_at, expires_at, completed_at, fingerprint_hash, ip_address, metadata
		FROM captcha_sessions
		WHERE id = ?`

	start := time.Now()
	r.logger.Database().Debug("Loading captcha session by ID", "id", id)

	row := r.db.QueryRow(query, id)
	session, err := r.scanSession(row)
	if err != nil {
		r.logger.Database().Error("Failed to load captcha session", "error", err.Error(), "id", id)
		return nil, err
	}
	if session == nil {
		r.logger.Database().Debug("Captcha session not found", "id", id)
		return nil, nil
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return session, nil
}

// Update persists attempt increments and completion state.
func (r *SQLSessionRepository) Update(session *captcha.Session) error {
	const query = `
		UPDATE captcha_sessions
		SET attempts = ?, completed_at = ?, metadata = ?
		WHERE id = ?`

	start := time.Now()
	r.logger.Database().Debug("Executing captcha session update", "id", session.ID, "attempts", session.Attempts)

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return err
	}

	var completedAt sql.NullString
	if session.CompletedAt != nil {
		completedAt = sql.NullString{String: session.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err = r.db.Exec(query, session.Attempts, completedAt, string(metadata), session.ID)
	if err != nil {
		r.logger.Database().Error("Captcha session update failed", "error", err.Error(), "id", session.ID)
		return err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// SaveResult records the outcome of a verification attempt.
func (r *SQLSessionRepository) SaveResult(record *captcha.VerificationRecord) error {
	const query = `
		INSERT INTO captcha_results (id, session_id, user_id, ip_address, success, suspicious, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing captcha result insert", "sessionId", record.SessionID, "success", record.Success)

	_, err := r.db.Exec(
		query,
		record.ID,
		record.SessionID,
		record.UserID,
		nullable(record.IPAddress),
		record.Success,
		record.Suspicious,
		record.Confidence,
		record.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Database().Error("Captcha result insert failed", "error", err.Error(), "sessionId", record.SessionID)
		return err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// CountFailuresByUser counts failed attempts for a user since the given time.
func (r *SQLSessionRepository) CountFailuresByUser(userID string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM captcha_results
		WHERE user_id = ? AND success = 0 AND created_at >= ?`

	start := time.Now()
	var count int
	err := r.db.QueryRow(query, userID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		r.logger.Database().Error("Failed to count user failures", "error", err.Error(), "userId", userID)
		return 0, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return count, nil
}

// CountFailuresByIP counts failed attempts from an address since the given time.
func (r *SQLSessionRepository) CountFailuresByIP(ipAddress string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM captcha_results
		WHERE ip_address = ? AND success = 0 AND created_at >= ?`

	start := time.Now()
	var count int
	err := r.db.QueryRow(query, ipAddress, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		r.logger.Database().Error("Failed to count IP failures", "error", err.Error())
		return 0, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return count, nil
}

// DeleteExpiredBefore reclaims storage for sessions whose TTL lapsed before
// the cutoff. Correctness never depends on this; expiry is checked on access.
func (r *SQLSessionRepository) DeleteExpiredBefore(cutoff time.Time) (int, error) {
	const query = `DELETE FROM captcha_sessions WHERE expires_at < ? AND completed_at IS NULL`

	start := time.Now()
	result, err := r.db.Exec(query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		r.logger.Database().Error("Expired session cleanup failed", "error", err.Error())
		return 0, err
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		r.logger.Database().Info("Expired sessions reclaimed", "count", affected, "duration", time.Since(start))
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return int(affected), nil
}

// scanSession is a helper to scan a sql.Row into a Session struct.
func (r *SQLSessionRepository) scanSession(row *sql.Row) (*captcha.Session, error) {
	var session captcha.Session
	var challengeType, difficulty, createdAtStr, expiresAtStr, metadataStr string
	var category, completedAtStr, fingerprintHash, ipAddress sql.NullString

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&challengeType,
		&difficulty,
		&session.Challenge.Prompt,
		&category,
		&session.Answer,
		&session.Attempts,
		&session.MaxAttempts,
		&createdAtStr,
		&expiresAtStr,
		&completedAtStr,
		&fingerprintHash,
		&ipAddress,
		&metadataStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}

	session.Type = captcha.ChallengeType(challengeType)
	session.Challenge.Type = session.Type
	session.Challenge.Difficulty = captcha.Difficulty(difficulty)
	if session.Type == captcha.TypeInteractive && category.Valid {
		session.Challenge.Interactive = &captcha.InteractiveChallenge{Category: category.String, GridSize: 9}
	}
	if fingerprintHash.Valid {
		session.FingerprintHash = fingerprintHash.String
	}
	if ipAddress.Valid {
		session.IPAddress = ipAddress.String
	}

	if session.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
		return nil, err
	}
	if session.ExpiresAt, err = parseTimestamp(expiresAtStr); err != nil {
		return nil, err
	}
	if completedAtStr.Valid {
		completed, err := parseTimestamp(completedAtStr.String)
		if err != nil {
			return nil, err
		}
		session.CompletedAt = &completed
	}

	if err := json.Unmarshal([]byte(metadataStr), &session.Metadata); err != nil {
		return nil, err
	}

	return &session, nil
}

// parseTimestamp handles both RFC3339 and SQLite's default timestamp format.
func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// nullable converts an empty string to a SQL NULL.
func nullable(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
