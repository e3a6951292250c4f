package clavis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clavisauth/clavis/internal"
	"github.com/clavisauth/clavis/session"
)

// LoginInput carries a password login attempt. MFACode is required once the
// account has an enrolled second factor; it accepts either a TOTP code or an
// unspent backup code.
type LoginInput struct {
	Email    string
	Password string
	MFACode  string
}

// Login authenticates primary credentials, enforces lockout and rate limits,
// verifies the second factor when enrolled, and establishes a session.
//
// The lockout guard is consulted before any credential work, so a locked
// account returns [ErrAccountLocked] regardless of password correctness.
// Unknown email and wrong password both map to [ErrInvalidCredentials].
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))

	status, err := e.guard.Status(ctx, email)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if status.Locked {
		e.emitAudit(ctx, EventLogin, "", "", false, ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	if err := e.consume(ctx, "login:e:"+email, e.config.Rate.LoginPerEmail); err != nil {
		return nil, err
	}
	if ip := ClientIP(ctx); ip != "" {
		if err := e.consume(ctx, "login:ip:"+ip, e.config.Rate.LoginPerIP); err != nil {
			return nil, err
		}
	}

	user, err := e.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn a failure on the email key anyway so account probing
			// and password guessing cost the same.
			_, _ = e.guard.RecordFailure(ctx, email)
			e.metrics.Inc(MetricLoginFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, ErrStoreUnavailable
	}

	// An unparseable stored hash (federated-only accounts have none at all)
	// must look exactly like a wrong password.
	check, err := e.hasher.Check(in.Password, user.PasswordHash)
	if err != nil || !check.Valid {
		return nil, e.recordLoginFailure(ctx, email, user)
	}

	if check.NeedsRehash {
		e.rehash(ctx, user, in.Password)
	}

	if user.MFAEnabled {
		if in.MFACode == "" {
			e.metrics.Inc(MetricMFAChallenges)
			return nil, ErrMFARequired
		}
		if err := e.consumeMFAAttempt(ctx, user.ID); err != nil {
			return nil, err
		}
		if err := e.verifySecondFactor(ctx, user, in.MFACode); err != nil {
			e.metrics.Inc(MetricMFAFailures)
			e.emitAudit(ctx, EventLogin, user.ID, "", false, err, nil)
			return nil, err
		}
	}

	if err := e.guard.Reset(ctx, email); err != nil {
		e.log.WithError(err).Warn("lockout reset failed")
	}
	if user.FailedLoginCount > 0 || user.LockedUntil != nil {
		if err := e.users.UpdateLockState(ctx, user.ID, 0, nil); err != nil {
			e.log.WithError(err).Warn("lock state mirror failed")
		}
	}

	result, err := e.establishSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, EventLogin, user.ID, result.SessionID, true, nil, nil)
	return result, nil
}

// recordLoginFailure books one failed attempt against the guard and mirrors
// the state into the user store.
func (e *Engine) recordLoginFailure(ctx context.Context, email string, user *UserRecord) error {
	e.metrics.Inc(MetricLoginFailure)

	status, err := e.guard.RecordFailure(ctx, email)
	if err != nil {
		e.log.WithError(err).Warn("failure recording failed")
		return ErrInvalidCredentials
	}

	var lockedUntil *time.Time
	if status.Locked {
		until := status.LockedUntil
		lockedUntil = &until
		e.metrics.Inc(MetricLockouts)
		e.emitAudit(ctx, EventLockout, user.ID, "", false, nil, map[string]string{
			"failures": itoa(status.Failures),
		})
		e.log.WithFields(logrus.Fields{
			"user_id":  user.ID,
			"failures": status.Failures,
		}).Warn("account locked")
	}
	if err := e.users.UpdateLockState(ctx, user.ID, status.Failures, lockedUntil); err != nil {
		e.log.WithError(err).Warn("lock state mirror failed")
	}

	if status.Locked {
		e.emitAudit(ctx, EventLogin, user.ID, "", false, ErrAccountLocked, nil)
		return ErrAccountLocked
	}
	e.emitAudit(ctx, EventLogin, user.ID, "", false, ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

// rehash upgrades a hash stored under weaker parameters. Best effort: login
// proceeds even if the write fails.
func (e *Engine) rehash(ctx context.Context, user *UserRecord, plaintext string) {
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.log.WithError(err).Warn("hash upgrade failed")
	}
}

// verifySecondFactor accepts a TOTP code first, then falls back to backup
// codes. A matched backup code is spent atomically.
func (e *Engine) verifySecondFactor(ctx context.Context, user *UserRecord, code string) error {
	secret, err := decodeTOTPSecret(user.MFASecret)
	if err == nil {
		ok, _, err := e.totp.VerifyCode(secret, code, time.Now())
		if err == nil && ok {
			return nil
		}
	}

	used, err := e.users.ConsumeBackupCode(ctx, user.ID, hashBackupCandidate(code))
	if err != nil {
		return ErrStoreUnavailable
	}
	if used {
		return nil
	}
	return ErrMFAInvalid
}

// establishSession creates a session with a fresh refresh family and mints
// the first token pair.
func (e *Engine) establishSession(ctx context.Context, userID string) (*LoginResult, error) {
	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	refresh, err := e.tokens.IssueRefresh(id.String())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &session.Session{
		ID:             id.String(),
		UserID:         userID,
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(e.config.Session.SlidingWindow).Unix(),
		MaxExpiresAt:   now.Add(e.config.Session.MaxLifetime).Unix(),
		IPAddress:      ClientIP(ctx),
		UserAgent:      UserAgent(ctx),
		RefreshHash:    hexHash(refresh.Hash),
	}
	if sess.ExpiresAt > sess.MaxExpiresAt {
		sess.ExpiresAt = sess.MaxExpiresAt
	}

	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, ErrStoreUnavailable
	}

	pair, err := e.issueTokens(ctx, userID, sess)
	if err != nil {
		return nil, err
	}
	pair.RefreshToken = refresh.Value

	return &LoginResult{
		UserID:    userID,
		SessionID: sess.ID,
		Tokens:    pair,
	}, nil
}
