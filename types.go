package clavis

import (
	"context"
	"time"

	"github.com/clavisauth/clavis/rbac"
)

// UserRecord is the persisted account state the engine operates on. Stores
// own the record; the engine never caches it across calls.
type UserRecord struct {
	ID               string
	Email            string
	Name             string
	PasswordHash     string
	MFAEnabled       bool
	MFASecret        string
	MFAPendingSecret string
	FailedLoginCount int
	LockedUntil      *time.Time
	CreatedAt        time.Time
}

// CreateUserInput carries the fields needed to create an account. The
// password is already hashed by the time a store sees it.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Roles        []string
}

// ExternalIdentity is a verified identity assertion from a federated
// provider.
type ExternalIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// TokenPair is the credential pair minted on login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Login and LoginFederated.
type LoginResult struct {
	UserID    string
	SessionID string
	Tokens    TokenPair
}

// SessionInfo is the introspection view of one active session.
type SessionInfo struct {
	ID             string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	IPAddress      string
	UserAgent      string
	Current        bool
}

// MFASetup is returned by SetupMFA: the shared secret and its provisioning
// URI, to be confirmed with a live code before the factor activates.
type MFASetup struct {
	Secret          string
	ProvisioningURI string
}

// UserStore persists accounts, credentials, MFA state, backup codes, and
// role memberships. Implementations must return ErrEmailTaken on duplicate
// email and ErrUserNotFound for missing accounts; other failures should wrap
// ErrStoreUnavailable.
type UserStore interface {
	CreateUser(ctx context.Context, in CreateUserInput) (*UserRecord, error)
	UserByID(ctx context.Context, id string) (*UserRecord, error)
	UserByEmail(ctx context.Context, email string) (*UserRecord, error)

	// UpdatePasswordHash replaces the active hash and pushes the previous
	// one onto the history used for reuse checks.
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	PasswordHistory(ctx context.Context, id string, depth int) ([]string, error)

	// UpdateLockState mirrors the lockout guard's view into durable storage
	// for operator visibility. The guard in Redis stays authoritative.
	UpdateLockState(ctx context.Context, id string, failedCount int, lockedUntil *time.Time) error

	SetMFA(ctx context.Context, id string, enabled bool, secret, pendingSecret string) error
	ReplaceBackupCodes(ctx context.Context, id string, hashes [][32]byte) error
	// ConsumeBackupCode atomically spends a matching backup code. It returns
	// false when no unspent code matches.
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error)

	RolesForUser(ctx context.Context, id string) ([]string, error)
	AssignRole(ctx context.Context, id, role string) error
	RevokeRole(ctx context.Context, id, role string) error

	UserByExternalIdentity(ctx context.Context, provider, subject string) (*UserRecord, error)
	LinkExternalIdentity(ctx context.Context, id, provider, subject string) error
}

// RoleStore persists role definitions. The engine loads all roles at Build
// and writes through on every mutation.
type RoleStore interface {
	Roles(ctx context.Context) ([]rbac.Role, error)
	SaveRole(ctx context.Context, role rbac.Role) error
	DeleteRole(ctx context.Context, name string) error
}

// CredentialVerifier validates a federated identity assertion, such as an
// OIDC ID token, and returns the identity it asserts.
type CredentialVerifier interface {
	Verify(ctx context.Context, assertion string) (*ExternalIdentity, error)
}
