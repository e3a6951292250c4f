package clavis

import (
	"context"
	"errors"
	"testing"
)

// staticVerifier resolves a fixed set of assertions, standing in for a real
// OIDC provider.
type staticVerifier struct {
	identities map[string]ExternalIdentity
}

func (v *staticVerifier) Verify(_ context.Context, assertion string) (*ExternalIdentity, error) {
	id, ok := v.identities[assertion]
	if !ok {
		return nil, errors.New("unknown assertion")
	}
	return &id, nil
}

func newFederatedEngine(t *testing.T) (*Engine, *MemoryUserStore) {
	t.Helper()

	verifier := &staticVerifier{identities: map[string]ExternalIdentity{
		"good-token": {
			Provider: "acme",
			Subject:  "acme-user-1",
			Email:    "carol@example.com",
			Name:     "Carol",
		},
	}}

	engine, store, _ := newTestEngine(t, testConfig())
	engine.verifiers["acme"] = verifier
	return engine, store
}

func TestLoginFederatedProvisionsOnFirstLogin(t *testing.T) {
	engine, store := newFederatedEngine(t)
	ctx := context.Background()

	first, err := engine.LoginFederated(ctx, "acme", "good-token")
	if err != nil {
		t.Fatalf("LoginFederated: %v", err)
	}
	if first.Tokens.AccessToken == "" || first.Tokens.RefreshToken == "" {
		t.Fatal("token pair incomplete")
	}

	user, err := store.UserByEmail(ctx, "carol@example.com")
	if err != nil {
		t.Fatalf("provisioned user missing: %v", err)
	}
	if user.PasswordHash != "" {
		t.Fatal("federated account has a password hash")
	}

	// Second login resolves the same account via the identity link.
	second, err := engine.LoginFederated(ctx, "acme", "good-token")
	if err != nil {
		t.Fatalf("second LoginFederated: %v", err)
	}
	if second.UserID != first.UserID {
		t.Fatalf("identity resolved to different users: %s vs %s", first.UserID, second.UserID)
	}
}

func TestLoginFederatedLinksExistingAccountByEmail(t *testing.T) {
	engine, _ := newFederatedEngine(t)
	ctx := context.Background()

	local, err := engine.Register(ctx, RegisterInput{
		Email:    "carol@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := engine.LoginFederated(ctx, "acme", "good-token")
	if err != nil {
		t.Fatalf("LoginFederated: %v", err)
	}
	if result.UserID != local.ID {
		t.Fatalf("federated login created a duplicate account: %s vs %s", result.UserID, local.ID)
	}
}

func TestPasswordLoginAgainstFederatedOnlyAccount(t *testing.T) {
	engine, _ := newFederatedEngine(t)
	ctx := context.Background()

	if _, err := engine.LoginFederated(ctx, "acme", "good-token"); err != nil {
		t.Fatalf("LoginFederated: %v", err)
	}

	// The account has no password hash; a password attempt must be
	// indistinguishable from a wrong password on any other account.
	_, err := engine.Login(ctx, LoginInput{Email: "carol@example.com", Password: testPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginFederatedRejectsBadAssertion(t *testing.T) {
	engine, _ := newFederatedEngine(t)

	if _, err := engine.LoginFederated(context.Background(), "acme", "forged"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginFederatedUnknownProvider(t *testing.T) {
	engine, _ := newFederatedEngine(t)

	if _, err := engine.LoginFederated(context.Background(), "nobody", "good-token"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
