package clavis

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefreshRotatesTokens(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	registerTestUser(t, engine)

	login, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := engine.Refresh(ctx, login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.SessionID != login.SessionID {
		t.Fatalf("session changed across refresh: %s -> %s", login.SessionID, refreshed.SessionID)
	}
	if refreshed.Tokens.RefreshToken == login.Tokens.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
	if _, err := engine.VerifyAccess(refreshed.Tokens.AccessToken); err != nil {
		t.Fatalf("new access token invalid: %v", err)
	}

	// The chain continues with the newest token.
	if _, err := engine.Refresh(ctx, refreshed.Tokens.RefreshToken); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	registerTestUser(t, engine)

	login, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := engine.Refresh(ctx, login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the already-exchanged token is reuse.
	if _, err := engine.Refresh(ctx, login.Tokens.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}

	// The whole family died with it, including the latest token.
	if _, err := engine.Refresh(ctx, refreshed.Tokens.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("latest token survived family revocation: %v", err)
	}
}

func TestRefreshConcurrentDoubleSpend(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	registerTestUser(t, engine)

	login, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = engine.Refresh(ctx, login.Tokens.RefreshToken)
		}(i)
	}
	wg.Wait()

	var wins, reuses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenReused):
			reuses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || reuses != 1 {
		t.Fatalf("expected exactly one winner and one reuse, got wins=%d reuses=%d", wins, reuses)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())

	if _, err := engine.Refresh(context.Background(), "not-a-refresh-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshAfterSessionExpiry(t *testing.T) {
	engine, _, mr := newTestEngine(t, testConfig())
	ctx := context.Background()
	registerTestUser(t, engine)

	login, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	mr.FastForward(testConfig().Session.MaxLifetime * 2)

	if _, err := engine.Refresh(ctx, login.Tokens.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
