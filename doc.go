// Package authcore is an embeddable authentication and session engine:
// registration, credential login with account lockout, JWT access/refresh
// token issuance, per-device session tracking, TOTP two-factor with backup
// codes, email verification, and password reset.
//
// Persistence goes through the Store interface (a GORM implementation lives
// in store/gormstore); an optional redis layer accelerates the token-verify
// hot path and throttles login attempts per address. Construct the engine
// with the Builder:
//
//	cfg := authcore.DefaultConfig()
//	cfg.JWT.PrivateKey = key
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithStore(store).
//		Build()
package authcore
