package authcore

import (
	"errors"
	"strings"
	"time"
)

// Config carries every tunable of the engine. Construct with DefaultConfig,
// adjust, and pass to Builder.WithConfig; the engine clones it at build time
// and treats it as immutable afterwards.
type Config struct {
	JWT               JWTConfig
	Lockout           LockoutConfig
	Password          PasswordConfig
	TOTP              TOTPConfig
	EmailVerification EmailVerificationConfig
	PasswordReset     PasswordResetConfig
	Cache             CacheConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

// JWTConfig configures the token codec. AccessTTL bounds the access token;
// RefreshTTL bounds both the refresh token and the session row's expiry.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// LockoutConfig is the failed-login lockout policy: Threshold consecutive
// failures lock the account for Duration.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// PasswordConfig holds argon2id cost parameters (Memory in KB) and the
// opportunistic rehash toggle.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// TOTPConfig configures the two-factor engine.
type TOTPConfig struct {
	Issuer          string
	Digits          int
	Period          int
	Algorithm       string
	Skew            int
	BackupCodeCount int
	QRCodeSize      int
}

// EmailVerificationConfig configures the verification-token flow. TokenTTL
// is the window in which a requested token remains redeemable.
type EmailVerificationConfig struct {
	Enabled  bool
	TokenTTL time.Duration
}

// PasswordResetConfig configures the reset-token flow.
type PasswordResetConfig struct {
	Enabled  bool
	TokenTTL time.Duration
}

// CacheConfig configures the optional redis layer: a read-through user-state
// cache on the token-verify hot path and a per-IP pre-auth login throttle.
// Both require a redis client on the builder when enabled.
type CacheConfig struct {
	Enabled             bool
	KeyPrefix           string
	UserStateTTL        time.Duration
	ThrottleEnabled     bool
	ThrottleMaxAttempts int
	ThrottleWindow      time.Duration
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures in-process counters and the verify-latency
// histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the stock configuration: 30m access tokens, 7d
// refresh tokens, 5-failure/30m lockout, 6-digit 30s TOTP with one step of
// skew, 10 backup codes.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer:          "authcore",
			Digits:          6,
			Period:          30,
			Algorithm:       "SHA1",
			Skew:            1,
			BackupCodeCount: 10,
			QRCodeSize:      256,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:  true,
			TokenTTL: 24 * time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:  true,
			TokenTTL: time.Hour,
		},
		Cache: CacheConfig{
			Enabled:             false,
			KeyPrefix:           "ac",
			UserStateTTL:        30 * time.Second,
			ThrottleEnabled:     false,
			ThrottleMaxAttempts: 20,
			ThrottleWindow:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.SigningMethod != "hs256" && c.JWT.SigningMethod != "ed25519" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}

	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}
	if c.TOTP.QRCodeSize < 64 {
		return errors.New("TOTP QRCodeSize must be >= 64")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	if c.EmailVerification.Enabled && c.EmailVerification.TokenTTL <= 0 {
		return errors.New("EmailVerification TokenTTL must be > 0 when enabled")
	}
	if c.PasswordReset.Enabled && c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0 when enabled")
	}

	if c.Cache.Enabled {
		if c.Cache.KeyPrefix == "" {
			return errors.New("Cache KeyPrefix is required when cache is enabled")
		}
		if c.Cache.UserStateTTL <= 0 {
			return errors.New("Cache UserStateTTL must be > 0 when cache is enabled")
		}
	}
	if c.Cache.ThrottleEnabled {
		if c.Cache.ThrottleMaxAttempts <= 0 {
			return errors.New("Cache ThrottleMaxAttempts must be > 0 when throttle is enabled")
		}
		if c.Cache.ThrottleWindow <= 0 {
			return errors.New("Cache ThrottleWindow must be > 0 when throttle is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
