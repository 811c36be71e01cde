package captcha

import (
	"database/sql"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/persistence/database"
)

// SQLThreatRepository is the SQL-based implementation of the ThreatRepository.
type SQLThreatRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLThreatRepository creates a new instance of the repository.
func NewSQLThreatRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLThreatRepository {
	return &SQLThreatRepository{
		db:     db,
		logger: logger,
	}
}

// FindIndicatorsByUser retrieves the threat analyzer's historical indicators
// for an account, newest first.
func (r *SQLThreatRepository) FindIndicatorsByUser(userID string) ([]*captcha.ThreatIndicator, error) {
	const query = `
		SELECT id, user_id, kind, score, detail, created_at
		FROM threat_indicators
		WHERE user_id = ?
		ORDER BY created_at DESC`

	start := time.Now()
	r.logger.Database().Debug("Loading threat indicators", "userId", userID)

	rows, err := r.db.Query(query, userID)
	if err != nil {
		r.logger.Database().Error("Failed to load threat indicators", "error", err.Error(), "userId", userID)
		return nil, err
	}
	defer rows.Close()

	var indicators []*captcha.ThreatIndicator
	for rows.Next() {
		var indicator captcha.ThreatIndicator
		var detail sql.NullString
		var createdAtStr string
		if err := rows.Scan(&indicator.ID, &indicator.UserID, &indicator.Kind, &indicator.Score, &detail, &createdAtStr); err != nil {
			return nil, err
		}
		if detail.Valid {
			indicator.Detail = detail.String
		}
		if indicator.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		indicators = append(indicators, &indicator)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return indicators, nil
}
