package clavis

import "errors"

// Sentinel errors returned by Engine operations. Callers branch with
// errors.Is; wrapped detail is for logs, not for clients.
var (
	// ErrInvalidCredentials covers unknown email and wrong password alike, so
	// responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned when the lockout guard has tripped. It is
	// checked before credential verification, so a locked account reveals
	// nothing about password correctness.
	ErrAccountLocked = errors.New("account locked")

	// ErrRateLimited is returned when a per-key request budget is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrMFARequired signals that primary credentials verified but a second
	// factor must be presented.
	ErrMFARequired = errors.New("mfa code required")

	// ErrMFAInvalid is returned for a wrong TOTP or backup code.
	ErrMFAInvalid = errors.New("invalid mfa code")

	// ErrMFANotEnabled is returned by MFA operations on accounts without an
	// enrolled second factor.
	ErrMFANotEnabled = errors.New("mfa not enabled")

	// ErrMFAAlreadyEnabled is returned by SetupMFA when a factor is already
	// active; it must be disabled first.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")

	// ErrTokenExpired is returned for structurally valid but expired tokens.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for malformed, mis-signed, or revoked
	// tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenReused is returned when an already-rotated refresh token is
	// presented again. The whole token family is revoked when this fires.
	ErrTokenReused = errors.New("refresh token reused")

	// ErrPermissionDenied is returned by Authorize when no effective
	// permission grants the requested action.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPasswordPolicy is returned when a candidate password fails the
	// strength policy. Wrapped detail enumerates the violations.
	ErrPasswordPolicy = errors.New("password rejected by policy")

	// ErrPasswordBreached is returned when a candidate password appears in a
	// known breach corpus.
	ErrPasswordBreached = errors.New("password found in breach corpus")

	// ErrEmailTaken is returned by Register for a duplicate email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUserNotFound is returned when the referenced account does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrRoleNotFound is returned when the referenced role is not defined.
	ErrRoleNotFound = errors.New("role not found")

	// ErrStoreUnavailable wraps infrastructure failures (Redis, SQL). The
	// operation failed closed.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrEngineClosed is returned by operations on an engine after Close.
	ErrEngineClosed = errors.New("engine closed")
)
