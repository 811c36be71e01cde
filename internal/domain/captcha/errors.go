package captcha

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by the public service methods so the calling bot
// layer can render a specific message. Lower-level computation failures
// (hashing, comparison, geo lookups) are never surfaced; they degrade to
// conservative default scores instead.
var (
	ErrSessionNotFound  = errors.New("captcha session not found")
	ErrSessionExpired   = errors.New("captcha session expired")
	ErrAttemptsExceeded = errors.New("captcha attempts exceeded")
	ErrAccountBanned    = errors.New("account permanently banned")
	ErrLocationBlocked  = errors.New("location blocked")
	ErrRateLimited      = errors.New("rate limited")
)

// RateLimitError carries the exact remaining block duration so the caller
// can render "try again in N minutes".
type RateLimitError struct {
	RetryAfter time.Duration
	Scope      string // "user" or "ip"
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// Unwrap makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// BanError references the original account so the bot layer can show an
// explicit permanent-ban message.
type BanError struct {
	UserID         string
	OriginalUserID string
}

func (e *BanError) Error() string {
	return fmt.Sprintf("account %s banned: duplicate of account %s", e.UserID, e.OriginalUserID)
}

// Unwrap makes errors.Is(err, ErrAccountBanned) hold.
func (e *BanError) Unwrap() error { return ErrAccountBanned }
