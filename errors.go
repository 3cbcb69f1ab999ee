package authcore

import (
	"errors"

	"github.com/coursekit/authcore/token"
)

// Sentinel errors returned by Engine operations. Callers branch with
// errors.Is; wrapped variants carry extra detail in the message only.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned even when the submitted password is
	// wrong, so a locked account is observable to whoever is probing it.
	// That leak is accepted: the lock itself already rate-limits guessing.
	ErrAccountLocked = errors.New("account locked due to repeated failed login attempts")

	ErrAccountDeactivated     = errors.New("account is deactivated")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidRefreshToken    = errors.New("invalid or expired refresh token")
	ErrInvalidAccessToken     = errors.New("invalid or expired access token")
	ErrUserInactive           = errors.New("user is inactive")
	ErrWeakPassword           = errors.New("password does not meet strength requirements")
	ErrPasswordReuse          = errors.New("new password must differ from the current password")

	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrSetupNotInitialized     = errors.New("two-factor setup has not been initiated")
	ErrInvalidTotpCode         = errors.New("invalid totp code")
	ErrInvalidBackupCode       = errors.New("invalid or already used backup code")

	ErrInvalidVerificationToken  = errors.New("invalid or expired verification token")
	ErrInvalidResetToken         = errors.New("invalid or expired password reset token")
	ErrEmailVerificationDisabled = errors.New("email verification is disabled")
	ErrPasswordResetDisabled     = errors.New("password reset is disabled")

	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateEmail is the store-level signal; Register remaps it to
	// ErrEmailAlreadyRegistered before it reaches callers.
	ErrDuplicateEmail = errors.New("store: duplicate email")

	ErrLoginThrottled   = errors.New("too many login attempts from this address")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrEngineNotReady   = errors.New("engine not initialized")
)

// Token-layer sentinels re-exported for callers that only import the root
// package.
var (
	ErrTokenExpired      = token.ErrExpired
	ErrTokenInvalid      = token.ErrInvalid
	ErrTokenTypeMismatch = token.ErrTypeMismatch
)
