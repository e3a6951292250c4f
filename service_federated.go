package clavis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LoginFederated authenticates via a registered identity provider. The
// assertion (an OIDC ID token, typically) is verified by the provider's
// [CredentialVerifier]; on first login an account is created and linked to
// the external identity. Password lockout and MFA do not apply here — the
// provider owns those concerns for federated accounts.
func (e *Engine) LoginFederated(ctx context.Context, provider, assertion string) (*LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	verifier, ok := e.verifiers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidCredentials, provider)
	}

	if ip := ClientIP(ctx); ip != "" {
		if err := e.consume(ctx, "login:ip:"+ip, e.config.Rate.LoginPerIP); err != nil {
			return nil, err
		}
	}

	identity, err := verifier.Verify(ctx, assertion)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFederated, "", "", false, err, map[string]string{
			"provider": provider,
		})
		return nil, ErrInvalidCredentials
	}

	user, err := e.userForIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	result, err := e.establishSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, EventLoginFederated, user.ID, result.SessionID, true, nil, map[string]string{
		"provider": provider,
	})
	return result, nil
}

// userForIdentity finds the linked account, links by verified email when a
// matching account exists, or provisions a fresh account with no password.
func (e *Engine) userForIdentity(ctx context.Context, identity *ExternalIdentity) (*UserRecord, error) {
	user, err := e.users.UserByExternalIdentity(ctx, identity.Provider, identity.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, ErrStoreUnavailable
	}

	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: provider supplied no email", ErrInvalidCredentials)
	}

	user, err = e.users.UserByEmail(ctx, email)
	switch {
	case err == nil:
		// Existing local account with the same verified email: link it.
	case errors.Is(err, ErrUserNotFound):
		var roles []string
		if e.config.RBAC.DefaultRole != "" {
			roles = []string{e.config.RBAC.DefaultRole}
		}
		user, err = e.users.CreateUser(ctx, CreateUserInput{
			Email: email,
			Name:  identity.Name,
			Roles: roles,
		})
		if err != nil {
			return nil, ErrStoreUnavailable
		}
		e.metrics.Inc(MetricRegistrations)
	default:
		return nil, ErrStoreUnavailable
	}

	if err := e.users.LinkExternalIdentity(ctx, user.ID, identity.Provider, identity.Subject); err != nil {
		return nil, ErrStoreUnavailable
	}
	return user, nil
}
