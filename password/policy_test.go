package password

import (
	"strings"
	"testing"
)

func testPolicy(t *testing.T, cfg PolicyConfig) *Policy {
	t.Helper()
	hasher, err := NewHasher(testHashConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return NewPolicy(cfg, hasher)
}

func TestValidateAcceptsStrongPassword(t *testing.T) {
	policy := testPolicy(t, DefaultPolicyConfig())

	res := policy.Validate("Tr4vel-Quartz!Mango", PolicyContext{Email: "alice@example.com"})
	if !res.Valid {
		t.Fatalf("expected valid, got errors %v", res.Errors)
	}
	if res.Strength == StrengthWeak {
		t.Fatalf("expected above-weak strength, got %s (score %d)", res.Strength, res.Score)
	}
}

func TestValidateLength(t *testing.T) {
	policy := testPolicy(t, DefaultPolicyConfig())

	res := policy.Validate("Ab1!", PolicyContext{})
	if res.Valid {
		t.Fatal("short password accepted")
	}
	if !hasError(res, "too short") {
		t.Fatalf("expected length violation, got %v", res.Errors)
	}

	res = policy.Validate("A1"+strings.Repeat("a", 200), PolicyContext{})
	if !hasError(res, "too long") {
		t.Fatalf("expected max-length violation, got %v", res.Errors)
	}
}

func TestValidateCharacterClasses(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.RequireSymbol = true
	policy := testPolicy(t, cfg)

	res := policy.Validate("alllowercaseonly", PolicyContext{})
	for _, want := range []string{"uppercase", "digit", "symbol"} {
		if !hasError(res, want) {
			t.Errorf("expected %s violation, got %v", want, res.Errors)
		}
	}
}

func TestValidateDenyList(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MinLength = 6
	cfg.RequireUpper = false
	cfg.RequireDigit = false
	cfg.DenyList = []string{"companyname2024"}
	policy := testPolicy(t, cfg)

	if res := policy.Validate("qwerty", PolicyContext{}); !hasError(res, "too common") {
		t.Fatalf("builtin deny entry passed: %v", res.Errors)
	}
	if res := policy.Validate("CompanyName2024", PolicyContext{}); !hasError(res, "too common") {
		t.Fatalf("custom deny entry passed (case-insensitive match expected): %v", res.Errors)
	}
}

func TestValidateRejectsUserTokens(t *testing.T) {
	policy := testPolicy(t, DefaultPolicyConfig())

	pctx := PolicyContext{Email: "maria.santos@example.com", Name: "Maria Santos"}
	for _, pw := range []string{
		"XxMaria!Santos99",
		"good-SANTOS-pw1!",
		"maria.santos#2024A",
	} {
		if res := policy.Validate(pw, pctx); res.Valid {
			t.Errorf("password %q containing user token accepted", pw)
		}
	}

	// Short fragments below MinTokenLength must not trigger.
	pctx = PolicyContext{Email: "al@example.com"}
	if res := policy.Validate("Normal-Passw0rd-Здесь", pctx); !res.Valid {
		t.Errorf("unexpected rejection: %v", res.Errors)
	}
}

func TestValidateReuseAgainstHistory(t *testing.T) {
	hasher, _ := NewHasher(testHashConfig())
	policy := NewPolicy(DefaultPolicyConfig(), hasher)

	old := "Previous-Passw0rd-1"
	oldHash, err := hasher.Hash(old)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	pctx := PolicyContext{PreviousHashes: []string{oldHash}}
	if res := policy.Validate(old, pctx); res.Valid {
		t.Fatal("reused password accepted")
	}
	if res := policy.Validate("Entirely-Fresh-Passw0rd", pctx); !res.Valid {
		t.Fatalf("fresh password rejected: %v", res.Errors)
	}
}

func TestScoreTiers(t *testing.T) {
	policy := testPolicy(t, DefaultPolicyConfig())

	weak := policy.Validate("abc", PolicyContext{})
	if weak.Strength != StrengthWeak {
		t.Fatalf("expected weak, got %s", weak.Strength)
	}

	robust := policy.Validate("Extremely-L0ng&Varied-Passphrase!", PolicyContext{})
	if robust.Score <= weak.Score {
		t.Fatalf("robust score %d not above weak score %d", robust.Score, weak.Score)
	}
	if robust.Strength != StrengthRobust {
		t.Fatalf("expected robust, got %s (score %d)", robust.Strength, robust.Score)
	}
}

func hasError(res PolicyResult, fragment string) bool {
	for _, e := range res.Errors {
		if strings.Contains(e, fragment) {
			return true
		}
	}
	return false
}
