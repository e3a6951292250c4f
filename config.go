package clavis

import (
	"errors"
	"fmt"
	"time"

	"github.com/clavisauth/clavis/mfa"
	"github.com/clavisauth/clavis/password"
	"github.com/clavisauth/clavis/ratelimit"
	"github.com/clavisauth/clavis/token"
)

// Config is the full engine configuration. Zero values are filled from
// DefaultConfig by the builder; only non-default fields need setting.
type Config struct {
	Password PasswordConfig
	Token    token.Config
	TOTP     mfa.TOTPConfig
	Rate     RateConfig
	Lockout  LockoutConfig
	Session  SessionConfig
	RBAC     RBACConfig
	Audit    AuditConfig
}

// PasswordConfig groups hashing, policy, and breach-check settings.
type PasswordConfig struct {
	Hash   password.HashConfig
	Policy password.PolicyConfig
	Breach password.BreachConfig
	// BreachCheck enables the k-anonymity lookup against the breach corpus
	// on registration and password change.
	BreachCheck bool
}

// RateConfig holds the fixed-window budgets applied per operation.
type RateConfig struct {
	// LoginPerEmail caps login attempts per email address.
	LoginPerEmail ratelimit.Limit
	// LoginPerIP caps login attempts per client IP.
	LoginPerIP ratelimit.Limit
	// Refresh caps refresh attempts per session.
	Refresh ratelimit.Limit
	// Register caps registrations per client IP.
	Register ratelimit.Limit
	// MFAPerUser caps second-factor code verifications per account, keeping
	// 6-digit TOTP guessing far below the code space.
	MFAPerUser ratelimit.Limit
}

// LockoutConfig controls the account lockout guard.
type LockoutConfig struct {
	Threshold  int
	Duration   time.Duration
	CounterTTL time.Duration
	// ClearOnPasswordChange also resets the lockout state when the user
	// changes their password through an authenticated flow. Off by default:
	// a password change does not prove the lock was a false positive.
	ClearOnPasswordChange bool
}

// SessionConfig controls session lifetimes and Redis key layout.
type SessionConfig struct {
	// SlidingWindow is how far each refresh extends the session.
	SlidingWindow time.Duration
	// MaxLifetime caps a session's total age regardless of activity.
	MaxLifetime time.Duration
	// RevokeMarkerTTL is how long a reuse-revocation marker persists for
	// introspection after a family is torn down.
	RevokeMarkerTTL time.Duration
	// KeyPrefix namespaces all Redis keys.
	KeyPrefix string
}

// RBACConfig controls role resolution and its cache.
type RBACConfig struct {
	// DefaultRole, when set, is assigned to every newly registered user.
	DefaultRole string
	CacheSize   int
	CacheTTL    time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	BufferSize int
	// DropOnFull drops events instead of blocking when the buffer is full.
	DropOnFull bool
}

// DefaultConfig returns production-ready defaults. Token signing keys must
// still be provided.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Hash:        password.DefaultHashConfig(),
			Policy:      password.DefaultPolicyConfig(),
			Breach:      password.DefaultBreachConfig(),
			BreachCheck: true,
		},
		Token: token.Config{
			AccessTTL:     15 * time.Minute,
			SigningMethod: token.MethodEd25519,
			Leeway:        30 * time.Second,
		},
		TOTP: mfa.DefaultTOTPConfig(),
		Rate: RateConfig{
			LoginPerEmail: ratelimit.Limit{Max: 10, Window: time.Minute},
			LoginPerIP:    ratelimit.Limit{Max: 30, Window: time.Minute},
			Refresh:       ratelimit.Limit{Max: 30, Window: time.Minute},
			Register:      ratelimit.Limit{Max: 10, Window: time.Minute},
			MFAPerUser:    ratelimit.Limit{Max: 5, Window: time.Minute},
		},
		Lockout: LockoutConfig{
			Threshold:  5,
			Duration:   15 * time.Minute,
			CounterTTL: 15 * time.Minute,
		},
		Session: SessionConfig{
			SlidingWindow:   7 * 24 * time.Hour,
			MaxLifetime:     30 * 24 * time.Hour,
			RevokeMarkerTTL: 24 * time.Hour,
			KeyPrefix:       "clavis",
		},
		RBAC: RBACConfig{
			CacheSize: 4096,
			CacheTTL:  time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropOnFull: true,
		},
	}
}

// Validate checks cross-field consistency before the engine is built.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("config: token access TTL must be positive")
	}
	if c.Session.SlidingWindow <= 0 {
		return errors.New("config: session sliding window must be positive")
	}
	if c.Session.MaxLifetime < c.Session.SlidingWindow {
		return fmt.Errorf("config: session max lifetime %s shorter than sliding window %s",
			c.Session.MaxLifetime, c.Session.SlidingWindow)
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("config: lockout threshold must be positive")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("config: lockout duration must be positive")
	}
	return nil
}

func mergeDefaults(c Config) Config {
	def := DefaultConfig()

	if c.Password.Hash == (password.HashConfig{}) {
		c.Password.Hash = def.Password.Hash
	}
	if c.Password.Policy.MinLength == 0 {
		c.Password.Policy = def.Password.Policy
	}
	if c.Password.Breach.BaseURL == "" {
		c.Password.Breach = def.Password.Breach
	}
	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = def.Token.AccessTTL
	}
	if c.Token.SigningMethod == "" {
		c.Token.SigningMethod = def.Token.SigningMethod
	}
	if c.Token.Leeway == 0 {
		c.Token.Leeway = def.Token.Leeway
	}
	if c.TOTP.Digits == 0 {
		c.TOTP = def.TOTP
	}
	if c.Rate.LoginPerEmail.Max == 0 {
		c.Rate.LoginPerEmail = def.Rate.LoginPerEmail
	}
	if c.Rate.LoginPerIP.Max == 0 {
		c.Rate.LoginPerIP = def.Rate.LoginPerIP
	}
	if c.Rate.Refresh.Max == 0 {
		c.Rate.Refresh = def.Rate.Refresh
	}
	if c.Rate.Register.Max == 0 {
		c.Rate.Register = def.Rate.Register
	}
	if c.Rate.MFAPerUser.Max == 0 {
		c.Rate.MFAPerUser = def.Rate.MFAPerUser
	}
	if c.Lockout.Threshold == 0 {
		c.Lockout.Threshold = def.Lockout.Threshold
	}
	if c.Lockout.Duration == 0 {
		c.Lockout.Duration = def.Lockout.Duration
	}
	if c.Lockout.CounterTTL == 0 {
		c.Lockout.CounterTTL = c.Lockout.Duration
	}
	if c.Session.SlidingWindow == 0 {
		c.Session.SlidingWindow = def.Session.SlidingWindow
	}
	if c.Session.MaxLifetime == 0 {
		c.Session.MaxLifetime = def.Session.MaxLifetime
	}
	if c.Session.RevokeMarkerTTL == 0 {
		c.Session.RevokeMarkerTTL = def.Session.RevokeMarkerTTL
	}
	if c.Session.KeyPrefix == "" {
		c.Session.KeyPrefix = def.Session.KeyPrefix
	}
	if c.RBAC.CacheSize == 0 {
		c.RBAC.CacheSize = def.RBAC.CacheSize
	}
	if c.RBAC.CacheTTL == 0 {
		c.RBAC.CacheTTL = def.RBAC.CacheTTL
	}
	if c.Audit.BufferSize == 0 {
		c.Audit = def.Audit
	}
	return c
}
