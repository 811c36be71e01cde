package captcha

import (
	"database/sql"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
	"github.com/DropForge/dropforge-go/internal/infrastructure/security"
)

// SQLDeviceRepository is the SQL-based implementation of the DeviceRepository.
type SQLDeviceRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLDeviceRepository creates a new instance of the repository.
func NewSQLDeviceRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLDeviceRepository {
	return &SQLDeviceRepository{
		db:     db,
		logger: logger,
	}
}

// Save records a computed fingerprint for an account.
func (r *SQLDeviceRepository) Save(userID string, fp *captcha.Fingerprint) error {
	const query = `
		INSERT INTO device_fingerprints (id, user_id, hash, canvas_hash, hardware_signature, quality, risk_score, fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing device fingerprint insert", "userId", userID)

	_, err := r.db.Exec(
		query,
		security.GenerateULID(),
		userID,
		fp.Hash,
		nullable(fp.CanvasHash),
		nullable(fp.HardwareSignature),
		fp.Quality,
		fp.RiskScore,
		fp.Fallback,
		fp.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Database().Error("Device fingerprint insert failed", "error", err.Error(), "userId", userID)
		return err
	}

	r.logger.Database().Info("Device fingerprint insert completed", "userId", userID, "duration", time.Since(start))
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindLatestByUserID retrieves the most recently recorded fingerprint for an account.
func (r *SQLDeviceRepository) FindLatestByUserID(userID string) (*captcha.Fingerprint, error) {
	const query = `
		SELECT hash, canvas_hash, hardware_signature, quality, risk_score, fallback, created_at
		FROM device_fingerprints
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	start := time.Now()
	r.logger.Database().Debug("Loading latest device fingerprint", "userId", userID)

	var fp captcha.Fingerprint
	var canvasHash, hardwareSignature sql.NullString
	var createdAtStr string

	err := r.db.QueryRow(query, userID).Scan(
		&fp.Hash,
		&canvasHash,
		&hardwareSignature,
		&fp.Quality,
		&fp.RiskScore,
		&fp.Fallback,
		&createdAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Database().Debug("No device fingerprint recorded", "userId", userID)
			return nil, nil
		}
		r.logger.Database().Error("Failed to load device fingerprint", "error", err.Error(), "userId", userID)
		return nil, err
	}

	if canvasHash.Valid {
		fp.CanvasHash = canvasHash.String
	}
	if hardwareSignature.Valid {
		fp.HardwareSignature = hardwareSignature.String
	}
	if fp.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return &fp, nil
}
