package clavis

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clavisauth/clavis/internal/audit"
	"github.com/clavisauth/clavis/mfa"
	"github.com/clavisauth/clavis/password"
	"github.com/clavisauth/clavis/ratelimit"
	"github.com/clavisauth/clavis/rbac"
	"github.com/clavisauth/clavis/session"
	"github.com/clavisauth/clavis/token"
)

// Builder assembles an [Engine]. Options chain; the first hard error is
// reported by Build.
type Builder struct {
	config     Config
	configSet  bool
	redis      redis.UniversalClient
	users      UserStore
	roles      RoleStore
	log        *logrus.Logger
	sinks      []audit.Sink
	verifiers  map[string]CredentialVerifier
	httpClient *http.Client
}

// New starts a builder with default configuration.
func New() *Builder {
	return &Builder{verifiers: make(map[string]CredentialVerifier)}
}

// WithConfig replaces the configuration. Zero-valued fields are filled with
// defaults at Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configSet = true
	return b
}

// WithRedis sets the Redis client backing sessions, rate limits, and the
// lockout guard. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the account store. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithRoleStore sets the role-definition store. Optional; without one, roles
// live only in memory for the engine's lifetime.
func (b *Builder) WithRoleStore(store RoleStore) *Builder {
	b.roles = store
	return b
}

// WithLogger sets the structured logger. Defaults to a new logrus logger.
func (b *Builder) WithLogger(log *logrus.Logger) *Builder {
	b.log = log
	return b
}

// WithAuditSink appends an audit destination. May be called multiple times.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	if sink != nil {
		b.sinks = append(b.sinks, sink)
	}
	return b
}

// WithCredentialVerifier registers a federated identity verifier under a
// provider name, e.g. "google".
func (b *Builder) WithCredentialVerifier(provider string, v CredentialVerifier) *Builder {
	if provider != "" && v != nil {
		b.verifiers[provider] = v
	}
	return b
}

// WithHTTPClient overrides the HTTP client used for breach lookups. Tests
// point this at a local server.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// Build validates the configuration, wires every component, loads role
// definitions, and starts the audit dispatcher.
func (b *Builder) Build(ctx context.Context) (*Engine, error) {
	if b.redis == nil {
		return nil, errors.New("builder: redis client required")
	}
	if b.users == nil {
		return nil, errors.New("builder: user store required")
	}

	cfg := b.config
	if !b.configSet {
		cfg = DefaultConfig()
	}
	cfg = mergeDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = logrus.New()
	}

	hasher, err := password.NewHasher(cfg.Password.Hash)
	if err != nil {
		return nil, err
	}
	policy := password.NewPolicy(cfg.Password.Policy, hasher)

	var breach *password.BreachChecker
	if cfg.Password.BreachCheck {
		breach, err = password.NewBreachChecker(cfg.Password.Breach, b.httpClient)
		if err != nil {
			return nil, err
		}
	}

	tokens, err := token.NewProvider(cfg.Token)
	if err != nil {
		return nil, err
	}

	roles := b.roles
	if roles == nil {
		roles = NewMemoryRoleStore()
	}

	engine := &Engine{
		config:    cfg,
		log:       log,
		users:     b.users,
		roleStore: roles,
		hasher:    hasher,
		policy:    policy,
		breach:    breach,
		tokens:    tokens,
		totp:      mfa.NewTOTP(cfg.TOTP),
		sessions:  session.NewStore(b.redis, cfg.Session.KeyPrefix),
		limiter:   ratelimit.NewLimiter(b.redis, cfg.Session.KeyPrefix),
		guard: ratelimit.NewGuard(b.redis, cfg.Session.KeyPrefix,
			cfg.Lockout.Threshold, cfg.Lockout.Duration, cfg.Lockout.CounterTTL),
		rbac:      rbac.NewEngine(),
		permCache: rbac.NewCache(cfg.RBAC.CacheSize, cfg.RBAC.CacheTTL),
		verifiers: b.verifiers,
		metrics:   NewMetrics(),
	}

	defs, err := roles.Roles(ctx)
	if err != nil {
		return nil, err
	}
	if err := engine.rbac.Load(defs); err != nil {
		return nil, err
	}

	engine.dispatcher = newAuditDispatcher(b.sinks, log, cfg.Audit.BufferSize, cfg.Audit.DropOnFull)

	return engine, nil
}
