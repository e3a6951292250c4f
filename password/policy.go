package password

import (
	"strings"
	"unicode"
)

// StrengthTier buckets the 0-100 policy score into coarse levels.
type StrengthTier string

const (
	StrengthWeak   StrengthTier = "weak"
	StrengthFair   StrengthTier = "fair"
	StrengthStrong StrengthTier = "strong"
	StrengthRobust StrengthTier = "robust"
)

// PolicyConfig tunes password acceptance rules.
type PolicyConfig struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
	HistoryDepth   int
	DenyList       []string // extra forbidden passwords, matched case-insensitively
	MinTokenLength int      // shortest user-derived fragment rejected inside a password
}

// PolicyContext carries user-identifying material that must not appear inside
// a password, plus previously stored hashes for reuse checks.
type PolicyContext struct {
	Email          string
	Name           string
	PreviousHashes []string
}

// PolicyResult is returned by [Policy.Validate].
type PolicyResult struct {
	Valid    bool
	Errors   []string
	Score    int
	Strength StrengthTier
}

// Policy validates candidate passwords against length, character-class,
// deny-list, user-context, and reuse rules. Reuse checks go through the
// configured [Hasher]; the policy never sees stored plaintext.
type Policy struct {
	config PolicyConfig
	hasher *Hasher
	deny   map[string]struct{}
}

// DefaultDenyList covers the most common leaked passwords. Deployments are
// expected to extend it via [PolicyConfig.DenyList].
var DefaultDenyList = []string{
	"password", "password1", "password123", "passw0rd", "123456", "1234567",
	"12345678", "123456789", "1234567890", "qwerty", "qwerty123", "abc123",
	"iloveyou", "admin", "administrator", "welcome", "welcome1", "monkey",
	"dragon", "letmein", "football", "baseball", "sunshine", "princess",
	"trustno1", "shadow", "master", "superman", "batman", "login",
}

// DefaultPolicyConfig returns the baseline acceptance rules.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:      12,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		HistoryDepth:   5,
		MinTokenLength: 4,
	}
}

// NewPolicy builds a [Policy]. hasher is required when
// [PolicyConfig.HistoryDepth] is non-zero.
func NewPolicy(cfg PolicyConfig, hasher *Hasher) *Policy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 12
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 128
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = 4
	}

	deny := make(map[string]struct{}, len(DefaultDenyList)+len(cfg.DenyList))
	for _, p := range DefaultDenyList {
		deny[strings.ToLower(p)] = struct{}{}
	}
	for _, p := range cfg.DenyList {
		deny[strings.ToLower(p)] = struct{}{}
	}

	return &Policy{
		config: cfg,
		hasher: hasher,
		deny:   deny,
	}
}

// Validate applies every rule independently so the caller can report all
// violations at once. It performs no I/O and never mutates pctx.
func (p *Policy) Validate(password string, pctx PolicyContext) PolicyResult {
	var errs []string

	if len(password) < p.config.MinLength {
		errs = append(errs, "password too short")
	}
	if len(password) > p.config.MaxLength {
		errs = append(errs, "password too long")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if p.config.RequireUpper && !hasUpper {
		errs = append(errs, "missing uppercase character")
	}
	if p.config.RequireLower && !hasLower {
		errs = append(errs, "missing lowercase character")
	}
	if p.config.RequireDigit && !hasDigit {
		errs = append(errs, "missing digit")
	}
	if p.config.RequireSymbol && !hasSymbol {
		errs = append(errs, "missing symbol")
	}

	if _, found := p.deny[strings.ToLower(password)]; found {
		errs = append(errs, "password is too common")
	}

	if p.containsUserToken(password, pctx) {
		errs = append(errs, "password contains user-identifying content")
	}

	if reused := p.reused(password, pctx.PreviousHashes); reused {
		errs = append(errs, "password was used recently")
	}

	score := p.score(password, hasUpper, hasLower, hasDigit, hasSymbol, len(errs))

	return PolicyResult{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Score:    score,
		Strength: tierForScore(score),
	}
}

func (p *Policy) containsUserToken(password string, pctx PolicyContext) bool {
	lowered := strings.ToLower(password)

	var tokens []string
	if pctx.Email != "" {
		local := pctx.Email
		if at := strings.IndexByte(local, '@'); at >= 0 {
			local = local[:at]
		}
		tokens = append(tokens, local)
		tokens = append(tokens, splitTokens(local)...)
	}
	if pctx.Name != "" {
		tokens = append(tokens, splitTokens(pctx.Name)...)
	}

	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if len(tok) < p.config.MinTokenLength {
			continue
		}
		if strings.Contains(lowered, tok) {
			return true
		}
	}

	return false
}

func splitTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (p *Policy) reused(password string, history []string) bool {
	if p.hasher == nil || p.config.HistoryDepth <= 0 {
		return false
	}

	limit := len(history)
	if limit > p.config.HistoryDepth {
		limit = p.config.HistoryDepth
	}

	for _, hash := range history[:limit] {
		ok, err := p.hasher.Verify(password, hash)
		if err == nil && ok {
			return true
		}
	}

	return false
}

func (p *Policy) score(password string, upper, lower, digit, symbol bool, violations int) int {
	if violations > 0 && len(password) < p.config.MinLength {
		// Length failures dominate; a short password is weak regardless of mix.
		return 10 * len(password) / p.config.MinLength
	}

	score := 0

	switch {
	case len(password) >= 20:
		score += 50
	case len(password) >= 16:
		score += 40
	case len(password) >= p.config.MinLength:
		score += 30
	default:
		score += 10
	}

	classes := 0
	for _, has := range []bool{upper, lower, digit, symbol} {
		if has {
			classes++
		}
	}
	score += classes * 10

	if uniqueRunes(password) >= len(password)*3/4 {
		score += 10
	}

	score -= violations * 15
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score
}

func uniqueRunes(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

func tierForScore(score int) StrengthTier {
	switch {
	case score >= 85:
		return StrengthRobust
	case score >= 65:
		return StrengthStrong
	case score >= 40:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
