// Package gormstore is the GORM-backed implementation of authcore.Store,
// targeting postgres in production and sqlite in tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursekit/authcore"
)

// Store implements authcore.Store over a *gorm.DB. Inside WithinTx the
// receiver wraps the transaction handle, so every method works unchanged in
// both transactional and direct use.
type Store struct {
	db *gorm.DB
}

var _ authcore.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to postgres and runs migrations. Tests construct their own
// sqlite-backed *gorm.DB and call New plus AutoMigrate directly.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return New(db), nil
}

// AutoMigrate creates or updates the users, sessions, and
// user_recovery_codes tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&userModel{}, &sessionModel{}, &recoveryCodeModel{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

// WithinTx runs fn against a transactional view. fn returning an error
// rolls everything back.
func (s *Store) WithinTx(ctx context.Context, fn func(tx authcore.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// lockingScope adds FOR UPDATE on dialects that support it, so login-path
// reads serialize concurrent lockout-counter updates. sqlite has no row
// locks; its writer lock gives the same effect.
func (s *Store) lockingScope(db *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

func (s *Store) CreateUser(ctx context.Context, u *authcore.User) error {
	model := &userModel{}
	model.fromDomain(u)
	model.ID = 0

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateErr(err) {
			return authcore.ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}

	u.ID = model.ID
	u.CreatedAt = model.CreatedAt
	u.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*authcore.User, error) {
	var model userModel
	err := s.lockingScope(s.db.WithContext(ctx)).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return model.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authcore.User, error) {
	var model userModel
	err := s.lockingScope(s.db.WithContext(ctx)).First(&model, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return model.toDomain(), nil
}

func (s *Store) GetUserByVerificationToken(ctx context.Context, tokenValue string) (*authcore.User, error) {
	if tokenValue == "" {
		return nil, authcore.ErrUserNotFound
	}
	var model userModel
	err := s.db.WithContext(ctx).First(&model, "email_verification_token = ?", tokenValue).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by verification token: %w", err)
	}
	return model.toDomain(), nil
}

func (s *Store) GetUserByResetToken(ctx context.Context, tokenValue string) (*authcore.User, error) {
	if tokenValue == "" {
		return nil, authcore.ErrUserNotFound
	}
	var model userModel
	err := s.db.WithContext(ctx).First(&model, "password_reset_token = ?", tokenValue).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by reset token: %w", err)
	}
	return model.toDomain(), nil
}

func (s *Store) UpdateUser(ctx context.Context, u *authcore.User) error {
	model := &userModel{}
	model.fromDomain(u)

	result := s.db.WithContext(ctx).Omit("Sessions", "RecoveryCodes", "CreatedAt").Save(model)
	if result.Error != nil {
		if isDuplicateErr(result.Error) {
			return authcore.ErrDuplicateEmail
		}
		return fmt.Errorf("update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return authcore.ErrUserNotFound
	}

	u.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *authcore.Session) error {
	model := &sessionModel{}
	model.fromDomain(sess)
	model.ID = 0

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	sess.ID = model.ID
	sess.CreatedAt = model.CreatedAt
	return nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*authcore.Session, error) {
	var model sessionModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authcore.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return model.toDomain(), nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *authcore.Session) error {
	model := &sessionModel{}
	model.fromDomain(sess)

	result := s.db.WithContext(ctx).Omit("CreatedAt").Save(model)
	if result.Error != nil {
		return fmt.Errorf("update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return authcore.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID int64) ([]authcore.Session, error) {
	var models []sessionModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]authcore.Session, len(models))
	for i := range models {
		sessions[i] = *models[i].toDomain()
	}
	return sessions, nil
}

func (s *Store) CountValidSessions(ctx context.Context, userID int64, now time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("user_id = ? AND is_active = ? AND expires_at > ? AND revoked_at IS NULL", userID, true, now).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count valid sessions: %w", err)
	}
	return int(count), nil
}

func (s *Store) RevokeSession(ctx context.Context, userID, sessionID int64, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"revoked_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return authcore.ErrSessionNotFound
	}
	return nil
}

func (s *Store) RevokeAllSessions(ctx context.Context, userID int64, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"revoked_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("revoke all sessions: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", before).
		Delete(&sessionModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReplaceRecoveryCodes swaps the user's whole batch: old codes are gone the
// moment the surrounding transaction commits.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID int64, hashes [][32]byte) error {
	db := s.db.WithContext(ctx)

	if err := db.Where("user_id = ?", userID).Delete(&recoveryCodeModel{}).Error; err != nil {
		return fmt.Errorf("replace recovery codes: %w", err)
	}
	if len(hashes) == 0 {
		return nil
	}

	models := make([]recoveryCodeModel, len(hashes))
	for i, h := range hashes {
		hash := make([]byte, len(h))
		copy(hash, h[:])
		models[i] = recoveryCodeModel{
			UserID:   userID,
			CodeHash: hash,
		}
	}
	if err := db.Create(&models).Error; err != nil {
		return fmt.Errorf("replace recovery codes: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode marks a matching unused code as used. The guarded
// UPDATE makes redemption single-use even under concurrent attempts.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID int64, hash [32]byte, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&recoveryCodeModel{}).
		Where("user_id = ? AND code_hash = ? AND used_at IS NULL", userID, hash[:]).
		Update("used_at", at)
	if result.Error != nil {
		return false, fmt.Errorf("consume recovery code: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) DeleteRecoveryCodes(ctx context.Context, userID int64) error {
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&recoveryCodeModel{}).Error; err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	return nil
}
