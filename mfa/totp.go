package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

// TOTPConfig tunes time-based one-time code generation and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int    // step length in seconds, typically 30
	Skew      int    // accepted steps either side of now, to absorb clock drift
	Algorithm string // SHA1 (default), SHA256, SHA512
}

// TOTP implements RFC 6238 time-based one-time passwords.
type TOTP struct {
	config TOTPConfig
}

// DefaultTOTPConfig returns the RFC 6238 parameters every major
// authenticator app supports.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{
		Digits:    6,
		Period:    30,
		Skew:      1,
		Algorithm: "SHA1",
	}
}

// NewTOTP applies defaults and returns a verifier/generator.
func NewTOTP(cfg TOTPConfig) *TOTP {
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Skew < 0 {
		cfg.Skew = 1
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &TOTP{config: cfg}
}

// GenerateSecret returns a fresh random secret in raw and base32 form. The
// secret is not active until the caller confirms a valid code against it.
func (m *TOTP) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth:// payload consumed by authenticator apps.
func (m *TOTP) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// GenerateCode computes the code for secret at the given time. Servers only
// verify; this is for client-side tooling and tests.
func (m *TOTP) GenerateCode(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty totp secret")
	}
	counter := now.Unix() / int64(m.config.Period)
	return hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
}

// VerifyCode checks code against secret at the given time, scanning the
// configured skew window. On success it returns the matched step counter so
// callers can enforce replay protection.
func (m *TOTP) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumeric(trimmed) {
		return false, 0, nil
	}

	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
