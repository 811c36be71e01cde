package captcha

import (
	"database/sql"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
)

// SQLUserRepository is the SQL-based implementation of the UserRepository.
type SQLUserRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLUserRepository creates a new instance of the repository.
func NewSQLUserRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLUserRepository {
	return &SQLUserRepository{
		db:     db,
		logger: logger,
	}
}

// FindByID retrieves an account by its unique identifier.
func (r *SQLUserRepository) FindByID(id string) (*captcha.Account, error) {
	const query = `
		SELECT id, telegram_id, username, status, status_reason, registered_at
		FROM users
		WHERE id = ?`

	start := time.Now()
	r.logger.Database().Debug("Loading user by ID", "id", id)

	row := r.db.QueryRow(query, id)
	account, err := scanAccountRow(row)
	if err != nil {
		r.logger.Database().Error("Failed to load user by ID", "error", err.Error(), "id", id)
		return nil, err
	}
	if account == nil {
		r.logger.Database().Debug("User not found by ID", "id", id)
		return nil, nil
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return account, nil
}

// UpdateStatus changes an account's status with a human-readable reason.
func (r *SQLUserRepository) UpdateStatus(id string, status captcha.AccountStatus, reason string) error {
	const query = `
		UPDATE users
		SET status = ?, status_reason = ?
		WHERE id = ?`

	start := time.Now()
	r.logger.Database().Debug("Executing user status update", "id", id, "status", string(status))

	_, err := r.db.Exec(query, string(status), reason, id)
	if err != nil {
		r.logger.Database().Error("User status update failed", "error", err.Error(), "id", id)
		return err
	}

	r.logger.Database().Info("User status update completed", "id", id, "status", string(status), "duration", time.Since(start))
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return nil
}

// FindByDeviceHash retrieves all accounts whose recorded fingerprints share
// the exact canonical hash.
func (r *SQLUserRepository) FindByDeviceHash(hash string) ([]*captcha.Account, error) {
	const query = `
		SELECT DISTINCT u.id, u.telegram_id, u.username, u.status, u.status_reason, u.registered_at
		FROM users u
		JOIN device_fingerprints d ON d.user_id = u.id
		WHERE d.hash = ?`

	return r.findByFingerprintColumn(query, hash, "deviceHash")
}

// FindByCanvasFingerprint retrieves all accounts sharing a canvas sub-hash.
func (r *SQLUserRepository) FindByCanvasFingerprint(canvasHash string) ([]*captcha.Account, error) {
	const query = `
		SELECT DISTINCT u.id, u.telegram_id, u.username, u.status, u.status_reason, u.registered_at
		FROM users u
		JOIN device_fingerprints d ON d.user_id = u.id
		WHERE d.canvas_hash = ?`

	return r.findByFingerprintColumn(query, canvasHash, "canvasHash")
}

// FindByHardwareSignature retrieves all accounts sharing a hardware signature.
func (r *SQLUserRepository) FindByHardwareSignature(signature string) ([]*captcha.Account, error) {
	const query = `
		SELECT DISTINCT u.id, u.telegram_id, u.username, u.status, u.status_reason, u.registered_at
		FROM users u
		JOIN device_fingerprints d ON d.user_id = u.id
		WHERE d.hardware_signature = ?`

	return r.findByFingerprintColumn(query, signature, "hardwareSignature")
}

// FindRegisteredSince retrieves accounts registered at or after the given time.
func (r *SQLUserRepository) FindRegisteredSince(since time.Time) ([]*captcha.Account, error) {
	const query = `
		SELECT id, telegram_id, username, status, status_reason, registered_at
		FROM users
		WHERE registered_at >= ?
		ORDER BY registered_at ASC`

	start := time.Now()
	rows, err := r.db.Query(query, since.UTC().Format(time.RFC3339))
	if err != nil {
		r.logger.Database().Error("Failed to load recently registered users", "error", err.Error())
		return nil, err
	}
	defer rows.Close()

	accounts, err := scanAccountRows(rows)
	if err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return accounts, nil
}

func (r *SQLUserRepository) findByFingerprintColumn(query, value, field string) ([]*captcha.Account, error) {
	start := time.Now()
	r.logger.Database().Debug("Loading users by fingerprint component", "field", field)

	rows, err := r.db.Query(query, value)
	if err != nil {
		r.logger.Database().Error("Failed to load users by fingerprint component", "error", err.Error(), "field", field)
		return nil, err
	}
	defer rows.Close()

	accounts, err := scanAccountRows(rows)
	if err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return accounts, nil
}

func scanAccountRow(row *sql.Row) (*captcha.Account, error) {
	var account captcha.Account
	var status, registeredAtStr string
	var username, statusReason sql.NullString

	err := row.Scan(&account.ID, &account.TelegramID, &username, &status, &statusReason, &registeredAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}

	account.Status = captcha.AccountStatus(status)
	if username.Valid {
		account.Username = username.String
	}
	if statusReason.Valid {
		account.StatusReason = statusReason.String
	}
	if account.RegisteredAt, err = parseTimestamp(registeredAtStr); err != nil {
		return nil, err
	}

	return &account, nil
}

func scanAccountRows(rows *sql.Rows) ([]*captcha.Account, error) {
	var accounts []*captcha.Account
	for rows.Next() {
		var account captcha.Account
		var status, registeredAtStr string
		var username, statusReason sql.NullString

		if err := rows.Scan(&account.ID, &account.TelegramID, &username, &status, &statusReason, &registeredAtStr); err != nil {
			return nil, err
		}

		account.Status = captcha.AccountStatus(status)
		if username.Valid {
			account.Username = username.String
		}
		if statusReason.Valid {
			account.StatusReason = statusReason.String
		}

		var err error
		if account.RegisteredAt, err = parseTimestamp(registeredAtStr); err != nil {
			return nil, err
		}

		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}
