package clavis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clavisauth/clavis/mfa"
	"github.com/clavisauth/clavis/ratelimit"
)

// enrollMFA walks a user through setup and activation, returning the shared
// secret and the issued backup codes.
func enrollMFA(t *testing.T, engine *Engine, userID string) ([]byte, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := engine.SetupMFA(ctx, userID)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}

	secret, err := decodeTOTPSecret(setup.Secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	code, err := mfa.NewTOTP(testConfig().TOTP).GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	backupCodes, err := engine.EnableMFA(ctx, userID, code)
	if err != nil {
		t.Fatalf("EnableMFA: %v", err)
	}
	return secret, backupCodes
}

func TestMFALoginFlow(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	user := registerTestUser(t, engine)
	secret, _ := enrollMFA(t, engine, user.ID)

	// Without a code the login stops at the MFA gate.
	_, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword})
	if !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", err)
	}

	// A wrong code is rejected.
	_, err = engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword, MFACode: "000000"})
	if !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid, got %v", err)
	}

	// A live code completes the login.
	code, err := mfa.NewTOTP(testConfig().TOTP).GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if _, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword, MFACode: code}); err != nil {
		t.Fatalf("Login with valid code: %v", err)
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	user := registerTestUser(t, engine)
	_, backupCodes := enrollMFA(t, engine, user.ID)

	in := LoginInput{Email: testEmail, Password: testPassword, MFACode: backupCodes[0]}
	if _, err := engine.Login(ctx, in); err != nil {
		t.Fatalf("Login with backup code: %v", err)
	}

	// The same code again is spent.
	if _, err := engine.Login(ctx, in); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("spent backup code: %v", err)
	}

	// A different code still works.
	in.MFACode = backupCodes[1]
	if _, err := engine.Login(ctx, in); err != nil {
		t.Fatalf("Login with second backup code: %v", err)
	}
}

func TestMFAAttemptsAreBudgetedPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.MFAPerUser = ratelimit.Limit{Max: 3, Window: time.Minute}
	engine, _, mr := newTestEngine(t, cfg)
	ctx := context.Background()
	user := registerTestUser(t, engine)
	secret, _ := enrollMFA(t, engine, user.ID) // enrollment spends one attempt

	in := LoginInput{Email: testEmail, Password: testPassword, MFACode: "000000"}
	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, in); !errors.Is(err, ErrMFAInvalid) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// The budget is spent before verification, so even a correct code is
	// refused now.
	code, err := mfa.NewTOTP(testConfig().TOTP).GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	in.MFACode = code
	if _, err := engine.Login(ctx, in); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// A fresh window restores access.
	mr.FastForward(2 * time.Minute)
	code, err = mfa.NewTOTP(testConfig().TOTP).GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	in.MFACode = code
	if _, err := engine.Login(ctx, in); err != nil {
		t.Fatalf("login after window reset: %v", err)
	}
}

func TestEnableMFARequiresValidCode(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	user := registerTestUser(t, engine)

	if _, err := engine.SetupMFA(ctx, user.ID); err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	if _, err := engine.EnableMFA(ctx, user.ID, "000000"); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid, got %v", err)
	}

	// The factor stays inactive, so login needs no code.
	if _, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestSetupMFARejectsWhenAlreadyEnabled(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	user := registerTestUser(t, engine)
	enrollMFA(t, engine, user.ID)

	if _, err := engine.SetupMFA(context.Background(), user.ID); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}
}

func TestDisableMFARequiresPassword(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	user := registerTestUser(t, engine)
	enrollMFA(t, engine, user.ID)

	if err := engine.DisableMFA(ctx, user.ID, "Wrong-Password-99!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := engine.DisableMFA(ctx, user.ID, testPassword); err != nil {
		t.Fatalf("DisableMFA: %v", err)
	}

	// MFA gate is gone.
	if _, err := engine.Login(ctx, LoginInput{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Login after disable: %v", err)
	}
}

func TestRegenerateBackupCodesInvalidatesOldOnes(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	user := registerTestUser(t, engine)
	secret, oldCodes := enrollMFA(t, engine, user.ID)

	code, err := mfa.NewTOTP(testConfig().TOTP).GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	newCodes, err := engine.RegenerateBackupCodes(ctx, user.ID, code)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}

	in := LoginInput{Email: testEmail, Password: testPassword, MFACode: oldCodes[0]}
	if _, err := engine.Login(ctx, in); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("old backup code survived regeneration: %v", err)
	}
	in.MFACode = newCodes[0]
	if _, err := engine.Login(ctx, in); err != nil {
		t.Fatalf("new backup code rejected: %v", err)
	}
}
