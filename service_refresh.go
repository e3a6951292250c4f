package clavis

import (
	"context"
	"errors"

	"github.com/clavisauth/clavis/session"
)

// Refresh exchanges a refresh token for a new access/refresh pair, rotating
// the refresh family. Presenting an already-exchanged token returns
// [ErrTokenReused] and revokes every token in the family: under a concurrent
// double-spend exactly one caller wins the rotation.
//
// Permissions embedded in the new access token are resolved fresh, so role
// changes take effect at the next refresh at the latest.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	sessionID, providedHash, err := e.tokens.DecodeRefresh(refreshToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	if err := e.consume(ctx, "refresh:"+sessionID, e.config.Rate.Refresh); err != nil {
		return nil, err
	}

	next, err := e.tokens.IssueRefresh(sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Rotate(ctx, sessionID, providedHash, next.Hash, e.config.Session.RevokeMarkerTTL)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshMismatch):
			e.metrics.Inc(MetricRefreshReuse)
			e.emitAudit(ctx, EventRefreshReuse, "", sessionID, false, ErrTokenReused, nil)
			e.log.WithField("session_id", sessionID).
				Warn("refresh token reuse detected, family revoked")
			return nil, ErrTokenReused
		case errors.Is(err, session.ErrNotFound):
			return nil, e.classifyMissingSession(ctx, sessionID)
		default:
			return nil, ErrStoreUnavailable
		}
	}

	if err := e.sessions.Touch(ctx, sess, e.config.Session.SlidingWindow); err != nil &&
		!errors.Is(err, session.ErrNotFound) {
		e.log.WithError(err).Warn("session touch failed")
	}

	pair, err := e.issueTokens(ctx, sess.UserID, sess)
	if err != nil {
		return nil, err
	}
	pair.RefreshToken = next.Value

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, EventRefresh, sess.UserID, sess.ID, true, nil, nil)

	return &LoginResult{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Tokens:    pair,
	}, nil
}

// classifyMissingSession distinguishes a family torn down by reuse detection
// from plain expiry, so a victim presenting the stolen-then-replayed token
// still learns the family was revoked.
func (e *Engine) classifyMissingSession(ctx context.Context, sessionID string) error {
	revoked, err := e.sessions.FamilyRevoked(ctx, sessionID)
	if err != nil {
		return ErrTokenInvalid
	}
	if revoked {
		e.metrics.Inc(MetricRefreshReuse)
		return ErrTokenReused
	}
	return ErrTokenExpired
}
