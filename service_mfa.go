package clavis

import (
	"context"
	"errors"
	"time"

	"github.com/clavisauth/clavis/mfa"
)

const backupCodeCount = 10

// consumeMFAAttempt spends one unit of the per-account second-factor budget.
// Every code verification pays up front, so guessing is bounded regardless of
// which door the code arrives through.
func (e *Engine) consumeMFAAttempt(ctx context.Context, userID string) error {
	return e.consume(ctx, "mfa:"+userID, e.config.Rate.MFAPerUser)
}

// SetupMFA generates a pending TOTP secret for the user and returns the
// provisioning URI. The factor stays inactive until [Engine.EnableMFA]
// confirms a live code against the pending secret.
func (e *Engine) SetupMFA(ctx context.Context, userID string) (*MFASetup, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	user, err := e.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	if err := e.users.SetMFA(ctx, userID, false, "", secretBase32); err != nil {
		return nil, ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventMFASetup, userID, "", true, nil, nil)
	return &MFASetup{
		Secret:          secretBase32,
		ProvisioningURI: e.totp.ProvisionURI(secretBase32, user.Email),
	}, nil
}

// EnableMFA activates the pending factor after verifying a live code against
// it, and returns single-use backup codes. The plaintext codes are shown
// exactly once; only their hashes are stored.
func (e *Engine) EnableMFA(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	user, err := e.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if user.MFAPendingSecret == "" {
		return nil, ErrMFANotEnabled
	}

	secret, err := decodeTOTPSecret(user.MFAPendingSecret)
	if err != nil {
		return nil, ErrMFANotEnabled
	}
	if err := e.consumeMFAAttempt(ctx, userID); err != nil {
		return nil, err
	}
	ok, _, err := e.totp.VerifyCode(secret, code, time.Now())
	if err != nil || !ok {
		e.metrics.Inc(MetricMFAFailures)
		return nil, ErrMFAInvalid
	}

	codes, hashes, err := mfa.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	if err := e.users.SetMFA(ctx, userID, true, user.MFAPendingSecret, ""); err != nil {
		return nil, ErrStoreUnavailable
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventMFAEnable, userID, "", true, nil, nil)
	return codes, nil
}

// DisableMFA removes the second factor. The caller must prove possession of
// the account password; a code is not accepted here because a stolen code
// must not be able to weaken the account.
func (e *Engine) DisableMFA(ctx context.Context, userID, currentPassword string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	user, err := e.userByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if err := e.users.SetMFA(ctx, userID, false, "", ""); err != nil {
		return ErrStoreUnavailable
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventMFADisable, userID, "", true, nil, nil)
	return nil
}

// RegenerateBackupCodes replaces all backup codes after verifying a live
// TOTP code. Previously issued codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	user, err := e.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	secret, err := decodeTOTPSecret(user.MFASecret)
	if err != nil {
		return nil, ErrMFANotEnabled
	}
	if err := e.consumeMFAAttempt(ctx, userID); err != nil {
		return nil, err
	}
	ok, _, err := e.totp.VerifyCode(secret, code, time.Now())
	if err != nil || !ok {
		e.metrics.Inc(MetricMFAFailures)
		return nil, ErrMFAInvalid
	}

	codes, hashes, err := mfa.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventBackupCodesReset, userID, "", true, nil, nil)
	return codes, nil
}

func (e *Engine) userByID(ctx context.Context, userID string) (*UserRecord, error) {
	user, err := e.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, ErrStoreUnavailable
	}
	return user, nil
}
