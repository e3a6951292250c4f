package clavis

import (
	"context"
	"fmt"
	"strings"
)

// ChangePassword rotates the account password after verifying the current
// one. The new password runs through the same policy and breach checks as
// registration, plus the reuse check against stored history. All other
// sessions are revoked; the caller's session, when provided, survives.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	user, err := e.userByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	history, err := e.passwordHistory(ctx, user)
	if err != nil {
		return err
	}

	result := e.policy.Validate(newPassword, policyContextFor(user, history))
	if !result.Valid {
		return fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(result.Errors, "; "))
	}

	if err := e.checkBreach(ctx, newPassword); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return ErrStoreUnavailable
	}

	e.revokeOtherSessions(ctx, userID, keepSessionID)

	if e.config.Lockout.ClearOnPasswordChange {
		if err := e.guard.Reset(ctx, user.Email); err != nil {
			e.log.WithError(err).Warn("lockout reset failed")
		}
		if err := e.users.UpdateLockState(ctx, userID, 0, nil); err != nil {
			e.log.WithError(err).Warn("lock state mirror failed")
		}
	}

	e.emitAudit(ctx, EventPasswordChange, userID, keepSessionID, true, nil, nil)
	return nil
}

func (e *Engine) passwordHistory(ctx context.Context, user *UserRecord) ([]string, error) {
	depth := e.config.Password.Policy.HistoryDepth
	if depth <= 0 {
		return nil, nil
	}
	history, err := e.users.PasswordHistory(ctx, user.ID, depth)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	// The active hash always participates in the reuse check.
	return append([]string{user.PasswordHash}, history...), nil
}

func (e *Engine) revokeOtherSessions(ctx context.Context, userID, keepSessionID string) {
	sessions, err := e.sessions.SessionsForUser(ctx, userID)
	if err != nil {
		e.log.WithError(err).Warn("session sweep failed after password change")
		return
	}
	for _, s := range sessions {
		if s.ID == keepSessionID {
			continue
		}
		if err := e.sessions.Delete(ctx, s.ID); err != nil {
			e.log.WithError(err).Warn("session revoke failed")
		}
	}
}
