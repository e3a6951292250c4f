package clavis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clavisauth/clavis/password"
)

// RegisterInput carries a registration request. Email is normalized to lower
// case before storage and lookup.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// Register validates the candidate password against policy and the breach
// corpus, hashes it, and creates the account. When a default role is
// configured it is assigned to the new user.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*UserRecord, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidCredentials)
	}

	if ip := ClientIP(ctx); ip != "" {
		if err := e.consume(ctx, "register:"+ip, e.config.Rate.Register); err != nil {
			return nil, err
		}
	}

	result := e.policy.Validate(in.Password, password.PolicyContext{
		Email: email,
		Name:  in.Name,
	})
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(result.Errors, "; "))
	}

	if err := e.checkBreach(ctx, in.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	var roles []string
	if e.config.RBAC.DefaultRole != "" {
		roles = []string{e.config.RBAC.DefaultRole}
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		Name:         in.Name,
		PasswordHash: hash,
		Roles:        roles,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, ErrStoreUnavailable
	}

	e.metrics.Inc(MetricRegistrations)
	e.emitAudit(ctx, EventRegister, user.ID, "", true, nil, map[string]string{
		"strength": string(result.Strength),
	})

	return user, nil
}

// checkBreach runs the k-anonymity lookup when enabled. A confirmed hit
// rejects the password; an unavailable corpus degrades open unless strict
// mode made the checker itself return an error.
func (e *Engine) checkBreach(ctx context.Context, candidate string) error {
	if e.breach == nil {
		return nil
	}

	result, err := e.breach.Check(ctx, candidate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if result.Known && result.Breached {
		e.metrics.Inc(MetricBreachRejections)
		return fmt.Errorf("%w: seen %d times", ErrPasswordBreached, result.Count)
	}
	if !result.Known {
		e.log.Warn("breach corpus unavailable, accepting password unchecked")
	}
	return nil
}
