package authcore

import (
	"context"
	"time"
)

// Role is the coarse access level stored on the user row.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// User is the identity record. Email is stored lowercase; the storage layer
// enforces its uniqueness. TotpSecret is non-empty only while 2FA setup is
// pending or enabled, and is cleared when 2FA is disabled.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	FullName     string
	Role         Role

	IsActive                bool
	EmailVerified           bool
	EmailVerificationToken  string
	EmailVerificationSentAt *time.Time

	FailedLoginAttempts int
	LockedUntil         *time.Time
	PasswordResetToken  string
	PasswordResetSentAt *time.Time
	PasswordChangedAt   *time.Time

	ProfileCompleted      bool
	TermsAccepted         bool
	TermsAcceptedAt       *time.Time
	PrivacyPolicyAccepted bool

	LastLogin *time.Time

	TotpSecret             string
	TwoFactorEnabled       bool
	BackupCodesGeneratedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one refresh-token lineage. The row id doubles as the refresh
// token's jti, which is what lets a presented token be traced back to
// exactly one row for hash verification and revocation.
type Session struct {
	ID               int64
	UserID           int64
	RefreshTokenHash string
	UserAgent        string
	IPAddress        string
	ExpiresAt        time.Time
	IsActive         bool
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// Valid reports whether the session can still redeem refresh tokens.
func (s *Session) Valid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt) && s.RevokedAt == nil
}

// RecoveryCode is the hash of a single-use 2FA backup code. UsedAt moves
// null -> timestamp exactly once and is never reset.
type RecoveryCode struct {
	ID        int64
	UserID    int64
	CodeHash  [32]byte
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Profile is the caller-facing view of a user, assembled by GetProfile and
// returned from Register/Login.
type Profile struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	Role             Role       `json:"role"`
	IsActive         bool       `json:"is_active"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	TotalSessions    int        `json:"total_sessions"`
}

// TokenPair is the issuance result of Register and Login. ExpiresIn is the
// access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// SessionInfo is the safe introspection view for a session. It deliberately
// excludes the refresh hash.
type SessionInfo struct {
	ID        int64      `json:"id"`
	UserAgent string     `json:"user_agent,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	IsActive  bool       `json:"is_active"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// RegisterInput is the well-typed registration request. Role defaults to
// RoleStudent when empty.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Role     Role
}

// TwoFactorSetup is returned by InitiateTwoFactorSetup: the base32 secret
// for manual entry, the otpauth:// provisioning URI, and the same URI
// rendered as a PNG data URI for direct embedding.
type TwoFactorSetup struct {
	Secret    string `json:"secret"`
	URI       string `json:"uri"`
	QRCodePNG string `json:"qr_code"`
}

// Store is the persistence boundary for user, session, and recovery-code
// records. Implementations must return ErrUserNotFound / ErrSessionNotFound
// for missing rows and ErrDuplicateEmail from CreateUser on a unique
// violation; the engine wraps any other failure as ErrStoreUnavailable.
//
// WithinTx runs fn against a transactional view of the store; the engine
// uses one transaction per logical operation.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByVerificationToken(ctx context.Context, tokenValue string) (*User, error)
	GetUserByResetToken(ctx context.Context, tokenValue string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id int64) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, userID int64) ([]Session, error)
	CountValidSessions(ctx context.Context, userID int64, now time.Time) (int, error)
	RevokeSession(ctx context.Context, userID, sessionID int64, at time.Time) error
	RevokeAllSessions(ctx context.Context, userID int64, at time.Time) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	ReplaceRecoveryCodes(ctx context.Context, userID int64, hashes [][32]byte) error
	ConsumeRecoveryCode(ctx context.Context, userID int64, hash [32]byte, at time.Time) (bool, error)
	DeleteRecoveryCodes(ctx context.Context, userID int64) error
}

// Notifier is the outbound notification boundary. Delivery transport (SMTP
// and friends) lives outside the engine; failures are logged, not fatal.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, tokenValue string) error
	SendPasswordResetEmail(ctx context.Context, email, tokenValue string) error
}

// NoopNotifier discards all notifications.
type NoopNotifier struct{}

func (NoopNotifier) SendVerificationEmail(context.Context, string, string) error  { return nil }
func (NoopNotifier) SendPasswordResetEmail(context.Context, string, string) error { return nil }
