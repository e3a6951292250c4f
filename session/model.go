package session

import "time"

// Session is the server-side record backing one token family. A session is
// created on login, its expiry slides on activity up to an absolute cap, and
// its RefreshHash is replaced atomically on every refresh-token rotation.
type Session struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
	ExpiresAt      int64  `json:"expires_at"`
	MaxExpiresAt   int64  `json:"max_expires_at"`
	IPAddress      string `json:"ip_address,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	RefreshHash    string `json:"refresh_hash"` // hex-encoded SHA-256
}

// Expired reports whether the session is past its sliding expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.Unix()
}

// NextExpiry computes the slid expiry: now plus the sliding window, capped by
// the absolute maximum lifetime.
func (s *Session) NextExpiry(now time.Time, window time.Duration) int64 {
	next := now.Add(window).Unix()
	if s.MaxExpiresAt > 0 && next > s.MaxExpiresAt {
		next = s.MaxExpiresAt
	}
	return next
}
