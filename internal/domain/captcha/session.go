// Package captcha defines the entities and storage contracts for the
// adaptive captcha and device-fingerprint risk engine. These types abstract
// the persistence details, ensuring the core verification logic stays
// decoupled from the database.
package captcha

import "time"

// ChallengeType discriminates the two challenge payload shapes.
type ChallengeType string

const (
	TypeTextImage   ChallengeType = "text-image"
	TypeInteractive ChallengeType = "interactive"
)

// Difficulty of a challenge, derived from overall risk.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// RiskLevel is the four-tier bucket derived from the overall risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is derived per request and embedded in session metadata.
// It is never persisted standalone.
type RiskAssessment struct {
	DeviceRisk   float64   `json:"deviceRisk"`
	LocationRisk float64   `json:"locationRisk"`
	BehaviorRisk float64   `json:"behaviorRisk"`
	OverallRisk  float64   `json:"overallRisk"`
	Level        RiskLevel `json:"level"`
}

// Challenge is an immutable value embedded inside a Session. Exactly one of
// TextImage or Interactive is set, matching Type.
type Challenge struct {
	Type        ChallengeType         `json:"type"`
	Difficulty  Difficulty            `json:"difficulty"`
	Prompt      string                `json:"prompt"`
	TextImage   *TextImageChallenge   `json:"textImage,omitempty"`
	Interactive *InteractiveChallenge `json:"interactive,omitempty"`
}

// TextImageChallenge carries the rendered puzzle image. The image bytes are
// delivered once and never persisted server-side.
type TextImageChallenge struct {
	Image  []byte `json:"image,omitempty"`
	Format string `json:"format"` // "png" or "webp"
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// InteractiveChallenge asks the user to identify grid cells containing a
// category of object.
type InteractiveChallenge struct {
	Category string `json:"category"`
	GridSize int    `json:"gridSize"`
}

// SessionMetadata holds the bot-detection score, risk assessment, and the
// rationale recorded by adaptive selection.
type SessionMetadata struct {
	BotScore         float64        `json:"botScore"`
	Risk             RiskAssessment `json:"risk"`
	SelectionReason  string         `json:"selectionReason"`
	ThreatIndicators []string       `json:"threatIndicators,omitempty"`
}

// Session is a single captcha challenge issued to a user. Created at request
// time, mutated by verification (attempt increments, completion), and expired
// by TTL. It is never physically deleted by this subsystem.
type Session struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Type            ChallengeType   `json:"type"`
	Challenge       Challenge       `json:"challenge"`
	Answer          string          `json:"-"` // Never serialize the expected answer
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"maxAttempts"`
	CreatedAt       time.Time       `json:"createdAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	FingerprintHash string          `json:"-"` // Never serialize raw fingerprint material
	IPAddress       string          `json:"-"`
	Metadata        SessionMetadata `json:"metadata"`
}

// Expired reports whether the session TTL has lapsed at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Completed reports whether the session reached a successful terminal state.
func (s *Session) Completed() bool {
	return s.CompletedAt != nil
}

// QualityMetrics is the five-component score used to accept or reject a
// verification attempt.
type QualityMetrics struct {
	FingerprintQuality float64 `json:"fingerprintQuality"`
	DeviceConsistency  float64 `json:"deviceConsistency"`
	BehavioralScore    float64 `json:"behavioralScore"`
	TimingAnalysis     float64 `json:"timingAnalysis"`
	InteractionPattern float64 `json:"interactionPattern"`
	Overall            float64 `json:"overall"`
}

// VerificationResult is the public-safe outcome of a verification attempt.
type VerificationResult struct {
	Success            bool    `json:"success"`
	Confidence         float64 `json:"confidence"`
	Attempts           int     `json:"attempts"`
	SuspiciousActivity bool    `json:"suspiciousActivity"`
}

// VerificationRecord is the persisted trace of a verification attempt, used
// for failure rate limiting and audit.
type VerificationRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	IPAddress  string    `json:"-"`
	Success    bool      `json:"success"`
	Suspicious bool      `json:"suspicious"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"createdAt"`
}
