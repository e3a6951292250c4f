package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clavisauth/clavis/internal"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 enables asymmetric signing so access tokens can be
	// verified by services that do not hold the signing key.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 uses a shared symmetric secret.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrExpired is returned for structurally valid tokens past their expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned when the token cannot be parsed at all.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalid is returned for any other verification failure.
	ErrInvalid = errors.New("token invalid")
)

// Config holds signing material and claim settings for the [Provider].
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// AccessClaims is the claim set carried by access tokens. Permissions is a
// snapshot resolved at issue time so that request-path authorization needs no
// role lookup.
type AccessClaims struct {
	SessionID   string   `json:"sid"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Provider issues signed access tokens and opaque refresh tokens. Access
// verification is pure and touches no storage.
type Provider struct {
	config Config
}

// RefreshToken pairs the opaque client-side value with the hash persisted
// server-side. The plaintext value is never stored.
type RefreshToken struct {
	Value string
	Hash  [32]byte
}

// NewProvider validates cfg and returns a [Provider].
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Provider{config: cfg}, nil
}

// IssueAccess signs a short-lived access token for the given subject.
// sessionID doubles as the token family binding the token to its session.
func (p *Provider) IssueAccess(userID, sessionID string, permissions []string) (string, error) {
	now := time.Now()

	claims := AccessClaims{
		SessionID:   sessionID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.AccessTTL)),
		},
	}
	if p.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.config.Audience}
	}

	tok := jwt.NewWithClaims(p.method(), claims)

	signKey, err := p.signKey()
	if err != nil {
		return "", err
	}

	return tok.SignedString(signKey)
}

// ParseAccess verifies signature, expiry, issuer, and audience. It is
// stateless and safe for unbounded concurrent use.
func (p *Provider) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{p.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if p.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(p.config.Leeway))
	}
	if p.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(p.config.Issuer))
	}
	if p.config.Audience != "" {
		options = append(options, jwt.WithAudience(p.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != p.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return p.verifyKey()
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}

// IssueRefresh mints an opaque refresh token bound to sessionID. The caller
// persists Hash; the Value goes to the client and is never stored.
func (p *Provider) IssueRefresh(sessionID string) (RefreshToken, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return RefreshToken{}, err
	}

	value, err := internal.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return RefreshToken{}, err
	}

	return RefreshToken{
		Value: value,
		Hash:  internal.HashRefreshSecret(secret),
	}, nil
}

// DecodeRefresh splits a presented refresh token into its session id and the
// hash of the embedded secret. Structural failures map to [ErrMalformed].
func (p *Provider) DecodeRefresh(tokenStr string) (string, [32]byte, error) {
	sessionID, secret, err := internal.DecodeRefreshToken(strings.TrimSpace(tokenStr))
	if err != nil {
		return "", [32]byte{}, ErrMalformed
	}

	return sessionID, internal.HashRefreshSecret(secret), nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrInvalid
	}
}

func (p *Provider) method() jwt.SigningMethod {
	switch p.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (p *Provider) signKey() (interface{}, error) {
	switch p.config.SigningMethod {
	case MethodHS256:
		return p.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(p.config.PrivateKey)
	}
}

func (p *Provider) verifyKey() (interface{}, error) {
	switch p.config.SigningMethod {
	case MethodHS256:
		return p.config.PrivateKey, nil
	default:
		return parseEdPublicKey(p.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
