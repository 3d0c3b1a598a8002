// File: api/schemas/session.go
package schemas

import "time"

// TrustLevel is the coarse reputation bucket for an account, derived from a
// numeric point accumulator via TrustLevelForPoints.
type TrustLevel string

const (
	TrustUnknown  TrustLevel = "unknown"
	TrustLow      TrustLevel = "low"
	TrustMedium   TrustLevel = "medium"
	TrustHigh     TrustLevel = "high"
	TrustVerified TrustLevel = "verified"
)

// trustRank orders the levels for monotonicity comparisons.
var trustRank = map[TrustLevel]int{
	TrustUnknown:  0,
	TrustLow:      1,
	TrustMedium:   2,
	TrustHigh:     3,
	TrustVerified: 4,
}

// Rank returns the ordinal position of the level (unknown=0 .. verified=4).
func (l TrustLevel) Rank() int { return trustRank[l] }

// TrustLevelForPoints maps a trust point total onto its level. This step
// function is the single source of truth for the points -> level mapping.
func TrustLevelForPoints(points int) TrustLevel {
	switch {
	case points >= 100:
		return TrustVerified
	case points >= 75:
		return TrustHigh
	case points >= 50:
		return TrustMedium
	case points >= 25:
		return TrustLow
	default:
		return TrustUnknown
	}
}

// TrustTransition is emitted whenever a session's trust level changes.
type TrustTransition struct {
	AccountID string
	Service   string
	OldLevel  TrustLevel
	NewLevel  TrustLevel
	Points    int
	Timestamp time.Time
}

// SessionState holds the persisted continuity record for one (account, service)
// pair. Cookie and local-storage snapshots let a higher layer restore browser
// state after reconnects.
type SessionState struct {
	SessionID           string            `json:"session_id"`
	AccountID           string            `json:"account_id"`
	Service             string            `json:"service"`
	TrustPoints         int               `json:"trust_points"`
	TrustLevel          TrustLevel        `json:"trust_level"`
	CreatedAt           time.Time         `json:"created_at"`
	LastActivityAt      time.Time         `json:"last_activity_at"`
	LoginCount          int               `json:"login_count"`
	LastLoginAt         *time.Time        `json:"last_login_at,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LoggedIn            bool              `json:"logged_in"`
	Cookies             []Cookie          `json:"cookies,omitempty"`
	LocalStorage        map[string]string `json:"local_storage,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Cookie is a minimal cookie snapshot, enough to restore a jar.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// LoginAttempt is one entry in an account's bounded attempt history.
type LoginAttempt struct {
	Timestamp       time.Time `json:"timestamp"`
	Success         bool      `json:"success"`
	SourceIP        string    `json:"source_ip"`
	ClientSignature string    `json:"client_signature"`
	Error           string    `json:"error,omitempty"`
	CooldownMs      int64     `json:"cooldown_ms"`
}

// LoginGate reports whether an account may attempt a login right now.
type LoginGate struct {
	Allowed     bool
	RemainingMs int64
}
