package gormstore

import (
	"time"

	"github.com/coursekit/authcore"
)

type userModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
	FullName     string `gorm:"type:varchar(255)"`
	Role         string `gorm:"type:varchar(20);not null"`

	IsActive                bool   `gorm:"not null;default:true"`
	EmailVerified           bool   `gorm:"not null;default:false"`
	EmailVerificationToken  string `gorm:"type:varchar(64);index"`
	EmailVerificationSentAt *time.Time

	FailedLoginAttempts int `gorm:"not null;default:0"`
	LockedUntil         *time.Time
	PasswordResetToken  string `gorm:"type:varchar(64);index"`
	PasswordResetSentAt *time.Time
	PasswordChangedAt   *time.Time

	ProfileCompleted      bool `gorm:"not null;default:false"`
	TermsAccepted         bool `gorm:"not null;default:false"`
	TermsAcceptedAt       *time.Time
	PrivacyPolicyAccepted bool `gorm:"not null;default:false"`

	LastLogin *time.Time

	TotpSecret             string `gorm:"type:varchar(64)"`
	TwoFactorEnabled       bool   `gorm:"not null;default:false"`
	BackupCodesGeneratedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations drive the cascade-delete constraints at migration time;
	// the store never loads or saves them through the user row.
	Sessions      []sessionModel      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	RecoveryCodes []recoveryCodeModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (userModel) TableName() string {
	return "users"
}

func (m *userModel) toDomain() *authcore.User {
	return &authcore.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		FullName:     m.FullName,
		Role:         authcore.Role(m.Role),

		IsActive:                m.IsActive,
		EmailVerified:           m.EmailVerified,
		EmailVerificationToken:  m.EmailVerificationToken,
		EmailVerificationSentAt: m.EmailVerificationSentAt,

		FailedLoginAttempts: m.FailedLoginAttempts,
		LockedUntil:         m.LockedUntil,
		PasswordResetToken:  m.PasswordResetToken,
		PasswordResetSentAt: m.PasswordResetSentAt,
		PasswordChangedAt:   m.PasswordChangedAt,

		ProfileCompleted:      m.ProfileCompleted,
		TermsAccepted:         m.TermsAccepted,
		TermsAcceptedAt:       m.TermsAcceptedAt,
		PrivacyPolicyAccepted: m.PrivacyPolicyAccepted,

		LastLogin: m.LastLogin,

		TotpSecret:             m.TotpSecret,
		TwoFactorEnabled:       m.TwoFactorEnabled,
		BackupCodesGeneratedAt: m.BackupCodesGeneratedAt,

		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func (m *userModel) fromDomain(u *authcore.User) {
	m.ID = u.ID
	m.Email = u.Email
	m.PasswordHash = u.PasswordHash
	m.FullName = u.FullName
	m.Role = string(u.Role)

	m.IsActive = u.IsActive
	m.EmailVerified = u.EmailVerified
	m.EmailVerificationToken = u.EmailVerificationToken
	m.EmailVerificationSentAt = u.EmailVerificationSentAt

	m.FailedLoginAttempts = u.FailedLoginAttempts
	m.LockedUntil = u.LockedUntil
	m.PasswordResetToken = u.PasswordResetToken
	m.PasswordResetSentAt = u.PasswordResetSentAt
	m.PasswordChangedAt = u.PasswordChangedAt

	m.ProfileCompleted = u.ProfileCompleted
	m.TermsAccepted = u.TermsAccepted
	m.TermsAcceptedAt = u.TermsAcceptedAt
	m.PrivacyPolicyAccepted = u.PrivacyPolicyAccepted

	m.LastLogin = u.LastLogin

	m.TotpSecret = u.TotpSecret
	m.TwoFactorEnabled = u.TwoFactorEnabled
	m.BackupCodesGeneratedAt = u.BackupCodesGeneratedAt

	m.CreatedAt = u.CreatedAt
	m.UpdatedAt = u.UpdatedAt
}

type sessionModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	UserID           int64     `gorm:"not null;index"`
	RefreshTokenHash string    `gorm:"type:varchar(64);not null"`
	UserAgent        string    `gorm:"type:varchar(512)"`
	IPAddress        string    `gorm:"type:varchar(45)"`
	ExpiresAt        time.Time `gorm:"not null;index"`
	IsActive         bool      `gorm:"not null;default:true"`
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

func (sessionModel) TableName() string {
	return "sessions"
}

func (m *sessionModel) toDomain() *authcore.Session {
	return &authcore.Session{
		ID:               m.ID,
		UserID:           m.UserID,
		RefreshTokenHash: m.RefreshTokenHash,
		UserAgent:        m.UserAgent,
		IPAddress:        m.IPAddress,
		ExpiresAt:        m.ExpiresAt,
		IsActive:         m.IsActive,
		RevokedAt:        m.RevokedAt,
		CreatedAt:        m.CreatedAt,
	}
}

func (m *sessionModel) fromDomain(s *authcore.Session) {
	m.ID = s.ID
	m.UserID = s.UserID
	m.RefreshTokenHash = s.RefreshTokenHash
	m.UserAgent = s.UserAgent
	m.IPAddress = s.IPAddress
	m.ExpiresAt = s.ExpiresAt
	m.IsActive = s.IsActive
	m.RevokedAt = s.RevokedAt
	m.CreatedAt = s.CreatedAt
}

type recoveryCodeModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"not null;index"`
	CodeHash  []byte `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (recoveryCodeModel) TableName() string {
	return "user_recovery_codes"
}
