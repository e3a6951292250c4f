package clavis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clavisauth/clavis/internal/audit"
	"github.com/clavisauth/clavis/mfa"
	"github.com/clavisauth/clavis/password"
	"github.com/clavisauth/clavis/ratelimit"
	"github.com/clavisauth/clavis/rbac"
	"github.com/clavisauth/clavis/session"
	"github.com/clavisauth/clavis/token"
)

// Engine is the authentication and authorization core. Construct it with
// [New]; all methods are safe for concurrent use.
type Engine struct {
	config    Config
	log       *logrus.Logger
	users     UserStore
	roleStore RoleStore

	hasher    *password.Hasher
	policy    *password.Policy
	breach    *password.BreachChecker
	tokens    *token.Provider
	totp      *mfa.TOTP
	sessions  *session.Store
	limiter   *ratelimit.Limiter
	guard     *ratelimit.Guard
	rbac      *rbac.Engine
	permCache *rbac.Cache
	verifiers map[string]CredentialVerifier

	dispatcher *auditDispatcher
	metrics    *Metrics
	closed     atomic.Bool
}

// Close flushes the audit dispatcher. The engine must not be used afterwards.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.dispatcher.close()
	return nil
}

// Metrics exposes the engine's counters for export.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) emitAudit(ctx context.Context, eventType, userID, sessionID string, success bool, cause error, meta map[string]string) {
	event := audit.Event{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ClientIP(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	e.dispatcher.emit(event)
}

func (e *Engine) consume(ctx context.Context, key string, limit ratelimit.Limit) error {
	decision, err := e.limiter.Consume(ctx, key, limit)
	if err != nil {
		e.log.WithError(err).Warn("rate limiter unavailable, failing closed")
		return ErrStoreUnavailable
	}
	if !decision.Allowed {
		e.metrics.Inc(MetricRateLimited)
		return ErrRateLimited
	}
	return nil
}

// resolvePermissions returns the user's effective permission set, cached per
// user. Role or membership mutations invalidate the cache eagerly.
func (e *Engine) resolvePermissions(ctx context.Context, userID string) ([]rbac.Permission, error) {
	if perms, ok := e.permCache.Get(userID); ok {
		return perms, nil
	}

	roles, err := e.users.RolesForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, ErrStoreUnavailable
	}

	perms := e.rbac.Resolve(roles)
	e.permCache.Set(userID, perms)
	return perms, nil
}

// issueTokens mints an access/refresh pair for an established session.
func (e *Engine) issueTokens(ctx context.Context, userID string, sess *session.Session) (TokenPair, error) {
	perms, err := e.resolvePermissions(ctx, userID)
	if err != nil {
		return TokenPair{}, err
	}

	access, err := e.tokens.IssueAccess(userID, sess.ID, rbac.PermissionStrings(perms))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     "", // filled by the caller holding the refresh value
		AccessExpiresAt:  time.Now().Add(e.config.Token.AccessTTL),
		RefreshExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// VerifyAccess validates an access token and returns its claims. Pure: no
// storage round-trip, so revocation is only observed at refresh time.
func (e *Engine) VerifyAccess(tokenStr string) (*token.AccessClaims, error) {
	claims, err := e.tokens.ParseAccess(tokenStr)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}
	return claims, nil
}

// VerifyAccessStrict validates the token and additionally checks that its
// session still exists, trading a Redis round-trip for immediate revocation.
func (e *Engine) VerifyAccessStrict(ctx context.Context, tokenStr string) (*token.AccessClaims, error) {
	claims, err := e.VerifyAccess(tokenStr)
	if err != nil {
		return nil, err
	}

	if _, err := e.sessions.Get(ctx, claims.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, ErrStoreUnavailable
	}
	return claims, nil
}

// Logout revokes a single session. Revoking an already-gone session is not
// an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return ErrStoreUnavailable
	}

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventLogout, sess.UserID, sessionID, true, nil, nil)
	return nil
}

// LogoutAll revokes every session belonging to userID, e.g. after a password
// change or a reported compromise.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventLogoutAll, userID, "", true, nil, nil)
	return nil
}

// ListSessions returns the user's active sessions. currentSessionID, when
// non-empty, marks the matching entry.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	sessions, err := e.sessions.SessionsForUser(ctx, userID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:             s.ID,
			CreatedAt:      time.Unix(s.CreatedAt, 0),
			LastActivityAt: time.Unix(s.LastActivityAt, 0),
			ExpiresAt:      time.Unix(s.ExpiresAt, 0),
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			Current:        s.ID == currentSessionID,
		})
	}
	return out, nil
}
