package captcha

import (
	"encoding/json"
	"time"
)

// CollisionType identifies which fingerprint component matched across
// accounts.
type CollisionType string

const (
	CollisionExactMatch    CollisionType = "exact_match"
	CollisionCanvasMatch   CollisionType = "canvas_match"
	CollisionHardwareMatch CollisionType = "hardware_match"
)

// CollisionEvidence is the payload persisted alongside a collision finding.
// The IP address and hardware signature are hidden from API responses but
// carried in full by the persistence serialization below.
type CollisionEvidence struct {
	IPAddress         string `json:"-"`
	UserAgent         string `json:"userAgent"`
	HardwareSignature string `json:"-"`
	Platform          string `json:"platform"`
	ScreenResolution  string `json:"screenResolution"`
}

// CollisionRecord is evidence of two or more accounts sharing a fingerprint
// component. Created transiently during collision checks; persisted only when
// a collision is found.
type CollisionRecord struct {
	Type           CollisionType     `json:"type"`
	Confidence     float64           `json:"confidence"`
	UserIDs        []string          `json:"userIds"`        // Sorted set of conflicting accounts
	OriginalUserID string            `json:"originalUserId"` // Earliest-registered account
	Evidence       CollisionEvidence `json:"evidence"`
	DetectedAt     time.Time         `json:"detectedAt"`
}

// storedCollisionEvidence is the persistence shape of CollisionEvidence. It
// restores the fields the outward-facing struct suppresses.
type storedCollisionEvidence struct {
	IPAddress         string `json:"ipAddress"`
	UserAgent         string `json:"userAgent"`
	HardwareSignature string `json:"hardwareSignature"`
	Platform          string `json:"platform"`
	ScreenResolution  string `json:"screenResolution"`
}

// storedCollisionRecord is the persistence shape of CollisionRecord.
type storedCollisionRecord struct {
	Type           CollisionType           `json:"type"`
	Confidence     float64                 `json:"confidence"`
	UserIDs        []string                `json:"userIds"`
	OriginalUserID string                  `json:"originalUserId"`
	Evidence       storedCollisionEvidence `json:"evidence"`
	DetectedAt     time.Time               `json:"detectedAt"`
}

func toStoredCollisionRecord(record CollisionRecord) storedCollisionRecord {
	return storedCollisionRecord{
		Type:           record.Type,
		Confidence:     record.Confidence,
		UserIDs:        record.UserIDs,
		OriginalUserID: record.OriginalUserID,
		Evidence: storedCollisionEvidence{
			IPAddress:         record.Evidence.IPAddress,
			UserAgent:         record.Evidence.UserAgent,
			HardwareSignature: record.Evidence.HardwareSignature,
			Platform:          record.Evidence.Platform,
			ScreenResolution:  record.Evidence.ScreenResolution,
		},
		DetectedAt: record.DetectedAt,
	}
}

func (s storedCollisionRecord) collisionRecord() CollisionRecord {
	return CollisionRecord{
		Type:           s.Type,
		Confidence:     s.Confidence,
		UserIDs:        s.UserIDs,
		OriginalUserID: s.OriginalUserID,
		Evidence: CollisionEvidence{
			IPAddress:         s.Evidence.IPAddress,
			UserAgent:         s.Evidence.UserAgent,
			HardwareSignature: s.Evidence.HardwareSignature,
			Platform:          s.Evidence.Platform,
			ScreenResolution:  s.Evidence.ScreenResolution,
		},
		DetectedAt: s.DetectedAt,
	}
}

// MarshalCollisionRecord serializes a collision record for storage, keeping
// the IP address and hardware signature that API responses omit.
func MarshalCollisionRecord(record CollisionRecord) ([]byte, error) {
	return json.Marshal(toStoredCollisionRecord(record))
}

// MarshalCollisionEvidence serializes a ban record's evidence list for
// storage.
func MarshalCollisionEvidence(records []CollisionRecord) ([]byte, error) {
	stored := make([]storedCollisionRecord, len(records))
	for i, record := range records {
		stored[i] = toStoredCollisionRecord(record)
	}
	return json.Marshal(stored)
}

// UnmarshalCollisionEvidence restores a ban record's evidence list from its
// stored form.
func UnmarshalCollisionEvidence(data []byte) ([]CollisionRecord, error) {
	var stored []storedCollisionRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	records := make([]CollisionRecord, len(stored))
	for i, s := range stored {
		records[i] = s.collisionRecord()
	}
	return records, nil
}

// BanRecord is the permanent record of a banning decision. Created once,
// never mutated.
type BanRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Reason    string            `json:"reason"`
	Severity  string            `json:"severity"`
	Evidence  []CollisionRecord `json:"evidence"`
	IssuedBy  string            `json:"issuedBy"` // Always "system_auto_detection" here
	CreatedAt time.Time         `json:"createdAt"`
}

// IssuerSystemAutoDetection is the issuing authority recorded on automatic bans.
const IssuerSystemAutoDetection = "system_auto_detection"

// SecurityIncident is the audit trail entry for a detected collision. The
// evidence payload is encrypted at rest.
type SecurityIncident struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	UserID            string    `json:"userId"`
	Severity          string    `json:"severity"`
	Summary           string    `json:"summary"`
	EncryptedEvidence string    `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
}
