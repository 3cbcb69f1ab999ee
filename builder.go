package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coursekit/authcore/cache"
	"github.com/coursekit/authcore/password"
	"github.com/coursekit/authcore/token"
)

// Builder assembles an Engine. A builder is single-use: Build succeeds at
// most once.
type Builder struct {
	config Config
	store  Store
	redis  *redis.Client

	notifier  Notifier
	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

// New returns a builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(s Store) *Builder {
	b.store = s
	return b
}

// WithRedis sets the redis client backing the user-state cache and login
// throttle. Required only when Cache.Enabled or Cache.ThrottleEnabled.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithNotifier sets the outbound email hook. Defaults to NoopNotifier.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every component, and returns a
// ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("store required")
	}

	if b.redis == nil && (cfg.Cache.Enabled || cfg.Cache.ThrottleEnabled) {
		return nil, errors.New("redis client required when cache or throttle is enabled")
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		notifier: b.notifier,
		logger:   b.logger,
	}
	if engine.notifier == nil {
		engine.notifier = NoopNotifier{}
	}
	if engine.logger == nil {
		engine.logger = zap.NewNop()
	}

	if cfg.Cache.Enabled {
		engine.userCache = cache.NewUserStateCache(b.redis, cfg.Cache.KeyPrefix, cfg.Cache.UserStateTTL)
	}
	if cfg.Cache.ThrottleEnabled {
		engine.throttle = cache.NewLoginThrottle(b.redis, cfg.Cache.KeyPrefix, cfg.Cache.ThrottleMaxAttempts, cfg.Cache.ThrottleWindow)
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TOTP)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = ph

	codec, err := token.NewCodec(token.Config{
		SigningMethod: token.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.codec = codec

	b.built = true

	return engine, nil
}
