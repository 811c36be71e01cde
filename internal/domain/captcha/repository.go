package captcha

import "time"

// UserRepository defines the account operations this subsystem consumes from
// the storage collaborator.
type UserRepository interface {
	FindByID(id string) (*Account, error)
	UpdateStatus(id string, status AccountStatus, reason string) error
	FindByDeviceHash(hash string) ([]*Account, error)
	FindByCanvasFingerprint(canvasHash string) ([]*Account, error)
	FindByHardwareSignature(signature string) ([]*Account, error)
	FindRegisteredSince(since time.Time) ([]*Account, error)
}

// DeviceRepository persists computed fingerprints per account. The
// fingerprint lifecycle is owned here, not by the risk engine.
type DeviceRepository interface {
	Save(userID string, fp *Fingerprint) error
	FindLatestByUserID(userID string) (*Fingerprint, error)
}

// SessionRepository persists captcha sessions and verification results.
type SessionRepository interface {
	Save(session *Session) error
	FindByID(id string) (*Session, error)
	Update(session *Session) error
	SaveResult(record *VerificationRecord) error
	CountFailuresByUser(userID string, since time.Time) (int, error)
	CountFailuresByIP(ipAddress string, since time.Time) (int, error)
	DeleteExpiredBefore(cutoff time.Time) (int, error)
}

// EnforcementRepository persists temporary blocks, ban records, and
// security incidents.
type EnforcementRepository interface {
	AddUserBlock(block *UserBlock) error
	FindUserBlocks(userID string) ([]*UserBlock, error)
	AddIPBlock(block *IPBlock) error
	FindIPBlocks(ipAddress string) ([]*IPBlock, error)
	SaveBanRecord(record *BanRecord) error
	FindBanRecordsByUser(userID string) ([]*BanRecord, error)
	SaveIncident(incident *SecurityIncident) error
	FindRecentIncidents(limit int) ([]*SecurityIncident, error)
}

// ThreatRepository exposes the threat analyzer's historical indicators.
type ThreatRepository interface {
	FindIndicatorsByUser(userID string) ([]*ThreatIndicator, error)
}
