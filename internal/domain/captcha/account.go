package captcha

import "time"

// AccountStatus is terminal at the account level once banned; there is no
// auto-unban path in this subsystem.
type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusBanned AccountStatus = "banned"
)

// Account is the platform user as seen by the risk engine. The points,
// referral, and wallet data live with the bot layer and are not loaded here.
type Account struct {
	ID           string        `json:"id"`
	TelegramID   int64         `json:"telegramId"`
	Username     string        `json:"username"`
	Status       AccountStatus `json:"status"`
	StatusReason string        `json:"statusReason,omitempty"`
	RegisteredAt time.Time     `json:"registeredAt"`
}

// Banned reports whether the account is in the terminal banned state.
func (a *Account) Banned() bool {
	return a.Status == StatusBanned
}

// UserBlock is a temporary verification block placed on a user after
// repeated failures under elevated risk.
type UserBlock struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Active reports whether the block is still in force at the given instant.
func (b *UserBlock) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// IPBlock is a temporary block on a source address after excessive failures.
type IPBlock struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"-"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Active reports whether the block is still in force at the given instant.
func (b *IPBlock) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// ThreatIndicator is a historical risk signal recorded against an account by
// the threat analyzer.
type ThreatIndicator struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Score     float64   `json:"score"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
