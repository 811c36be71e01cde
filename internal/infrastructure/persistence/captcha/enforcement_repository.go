package captcha

import (
	"database/sql"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
)

// SQLEnforcementRepository is the SQL-based implementation of the
// EnforcementRepository (blocks, bans, incidents).
type SQLEnforcementRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLEnforcementRepository creates a new instance of the repository.
func NewSQLEnforcementRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLEnforcementRepository {
	return &SQLEnforcementRepository{
		db:     db,
		logger: logger,
	}
}

// AddUserBlock records a temporary verification block for a user.
func (r *SQLEnforcementRepository) AddUserBlock(block *captcha.UserBlock) error {
	const query = `
		INSERT INTO user_blocks (id, user_id, reason, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing user block insert", "userId", block.UserID)

	_, err := r.db.Exec(
		query,
		block.ID,
		block.UserID,
		block.Reason,
		block.CreatedAt.UTC().Format(time.RFC3339),
		block.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Database().Error("User block insert failed", "error", err.Error(), "userId", block.UserID)
		return err
	}

	r.logger.Database().Info("User block insert completed", "userId", block.UserID, "expiresAt", block.ExpiresAt, "duration", time.Since(start))
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindUserBlocks retrieves all blocks recorded for a user, newest first.
func (r *SQLEnforcementRepository) FindUserBlocks(userID string) ([]*captcha.UserBlock, error) {
	const query = `
		SELECT id, user_id, reason, created_at, expires_at
		FROM user_blocks
		WHERE user_id = ?
		ORDER BY created_at DESC`

	start := time.Now()
	rows, err := r.db.Query(query, userID)
	if err != nil {
		r.logger.Database().Error("Failed to load user blocks", "error", err.Error(), "userId", userID)
		return nil, err
	}
	defer rows.Close()

	var blocks []*captcha.UserBlock
	for rows.Next() {
		var block captcha.UserBlock
		var createdAtStr, expiresAtStr string
		if err := rows.Scan(&block.ID, &block.UserID, &block.Reason, &createdAtStr, &expiresAtStr); err != nil {
			return nil, err
		}
		if block.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		if block.ExpiresAt, err = parseTimestamp(expiresAtStr); err != nil {
			return nil, err
		}
		blocks = append(blocks, &block)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return blocks, nil
}

// AddIPBlock records a temporary block on a source address.
func (r *SQLEnforcementRepository) AddIPBlock(block *captcha.IPBlock) error {
	const query = `
		INSERT INTO ip_blocks (id, ip_address, reason, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing IP block insert")

	_, err := r.db.Exec(
		query,
		block.ID,
		block.IPAddress,
		block.Reason,
		block.CreatedAt.UTC().Format(time.RFC3339),
		block.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Database().Error("IP block insert failed", "error", err.Error())
		return err
	}

	r.logger.Database().Info("IP block insert completed", "expiresAt", block.ExpiresAt, "duration", time.Since(start))
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindIPBlocks retrieves all blocks recorded for an address, newest first.
func (r *SQLEnforcementRepository) FindIPBlocks(ipAddress string) ([]*captcha.IPBlock, error) {
	const query = `
		SELECT id, ip_address, reason, created_at, expires_at
		FROM ip_blocks
		WHERE ip_address = ?
		ORDER BY created_at DESC`

	start := time.Now()
	rows, err := r.db.Query(query, ipAddress)
	if err != nil {
		r.logger.Database().Error("Failed to load IP blocks", "error", err.Error())
		return nil, err
	}
	defer rows.Close()

	var blocks []*captcha.IPBlock
	for rows.Next() {
		var block captcha.IPBlock
		var createdAtStr, expiresAtStr string
		if err := rows.Scan(&block.ID, &block.IPAddress, &block.Reason, &createdAtStr, &expiresAtStr); err != nil {
			return nil, err
		}
		if block.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		if block.ExpiresAt, err = parseTimestamp(expiresAtStr); err != nil {
			return nil, err
		}
		blocks = append(blocks, &block)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return blocks, nil
}

// SaveBanRecord persists a permanent ban record with its collision evidence.
func (r *SQLEnforcementRepository) SaveBanRecord(record *captcha.BanRecord) error {
	const query = `
		INSERT INTO ban_records (id, user_id, reason, severity, evidence, issued_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing ban record insert", "userId", record.UserID)

	evidence, err := captcha.MarshalCollisionEvidence(record.Evidence)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		query,
		record.ID,
		record.UserID,
		record.Reason,
		record.Severity,
		string(evidence),
		record.IssuedBy,
		record.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Database().Error("Ban record insert failed", "error", err.Error(), "userId", record.UserID)
		return err
	}

	r.logger.Database().Info("Ban record insert completed", "userId", record.UserID, "duration", time.Since(start))
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindBanRecordsByUser retrieves all ban records for an account.
func (r *SQLEnforcementRepository) FindBanRecordsByUser(userID string) ([]*captcha.BanRecord, error) {
	const query = `
		SELECT id, user_id, reason, severity, evidence, issued_by, created_at
		FROM ban_records
		WHERE user_id = ?
		ORDER BY created_at DESC`

	start := time.Now()
	rows, err := r.db.Query(query, userID)
	if err != nil {
		r.logger.Database().Error("Failed to load ban records", "error", err.Error(), "userId", userID)
		return nil, err
	}
	defer rows.Close()

	var records []*captcha.BanRecord
	for rows.Next() {
		var record captcha.BanRecord
		var evidenceStr, createdAtStr string
		if err := rows.Scan(&record.ID, &record.UserID, &record.Reason, &record.Severity, &evidenceStr, &record.IssuedBy, &createdAtStr); err != nil {
			return nil, err
		}
		if record.Evidence, err = captcha.UnmarshalCollisionEvidence([]byte(evidenceStr)); err != nil {
			return nil, err
		}
		if record.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return records, nil
}

// SaveIncident persists a security incident with its encrypted evidence payload.
func (r *SQLEnforcementRepository) SaveIncident(incident *captcha.SecurityIncident) error {
	const query = `
		INSERT INTO security_incidents (id, kind, user_id, severity, summary, encrypted_evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing security incident insert", "kind", incident.Kind, "userId", incident.UserID)

	_, err := r.db.Exec(
		query,
		incident.ID,
		incident.Kind,
		incident.UserID,
		incident.Severity,
		incident.Summary,
		nullable(incident.EncryptedEvidence),
		incident.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Database().Error("Security incident insert failed", "error", err.Error(), "kind", incident.Kind)
		return err
	}

	r.logger.Database().Info("Security incident insert completed", "kind", incident.Kind, "duration", time.Since(start))
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindRecentIncidents retrieves the newest security incidents up to limit.
func (r *SQLEnforcementRepository) FindRecentIncidents(limit int) ([]*captcha.SecurityIncident, error) {
	const query = `
		SELECT id, kind, user_id, severity, summary, encrypted_evidence, created_at
		FROM security_incidents
		ORDER BY created_at DESC
		LIMIT ?`

	start := time.Now()
	rows, err := r.db.Query(query, limit)
	if err != nil {
		r.logger.Database().Error("Failed to load recent incidents", "error", err.Error())
		return nil, err
	}
	defer rows.Close()

	var incidents []*captcha.SecurityIncident
	for rows.Next() {
		var incident captcha.SecurityIncident
		var encryptedEvidence sql.NullString
		var createdAtStr string
		if err := rows.Scan(&incident.ID, &incident.Kind, &incident.UserID, &incident.Severity, &incident.Summary, &encryptedEvidence, &createdAtStr); err != nil {
			return nil, err
		}
		if encryptedEvidence.Valid {
			incident.EncryptedEvidence = encryptedEvidence.String
		}
		if incident.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		incidents = append(incidents, &incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return incidents, nil
}
