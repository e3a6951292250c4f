package password

import (
	"strings"
	"testing"
)

func testHashConfig() HashConfig {
	// Minimum-cost parameters keep the suite fast.
	return HashConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(testHashConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	hash, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected PHC format, got %q", hash)
	}

	ok, err := hasher.Verify("correct horse battery staple", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong password", hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashesAreSalted(t *testing.T) {
	hasher, _ := NewHasher(testHashConfig())

	h1, err := hasher.Hash("same input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := hasher.Hash("same input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestNeedsRehashOnWeakerParams(t *testing.T) {
	weak, _ := NewHasher(testHashConfig())
	hash, err := weak.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	strongCfg := testHashConfig()
	strongCfg.Time = 2
	strong, _ := NewHasher(strongCfg)

	needs, err := strong.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash: %v", err)
	}
	if !needs {
		t.Fatal("expected rehash for weaker stored params")
	}

	needs, err = weak.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash: %v", err)
	}
	if needs {
		t.Fatal("unexpected rehash for equal params")
	}
}

func TestCheckCombinesVerifyAndRehash(t *testing.T) {
	weak, _ := NewHasher(testHashConfig())
	hash, _ := weak.Hash("pw")

	strongCfg := testHashConfig()
	strongCfg.Memory = 16 * 1024
	strong, _ := NewHasher(strongCfg)

	res, err := strong.Check("pw", hash)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Valid || !res.NeedsRehash {
		t.Fatalf("expected valid+needsRehash, got %+v", res)
	}

	res, err = strong.Check("nope", hash)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Valid {
		t.Fatal("wrong password reported valid")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	hasher, _ := NewHasher(testHashConfig())

	for _, bad := range []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=8192,t=1,p=1$short",
		"$bcrypt$whatever",
	} {
		if _, err := hasher.Verify("pw", bad); err == nil {
			t.Errorf("Verify(%q): expected error", bad)
		}
	}
}

func TestNewHasherRejectsWeakConfig(t *testing.T) {
	cfg := testHashConfig()
	cfg.Memory = 1024
	if _, err := NewHasher(cfg); err == nil {
		t.Fatal("expected rejection of sub-minimum memory")
	}
}
