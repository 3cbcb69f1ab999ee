package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a reset token for the account behind email.
// Unknown addresses succeed silently so the endpoint cannot be used to
// probe which emails are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}

	normalized := normalizeEmail(email)
	tokenValue := uuid.NewString()
	now := time.Now().UTC()

	var (
		found  bool
		userID int64
	)

	err := e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByEmail(ctx, normalized)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil
			}
			return err
		}

		found = true
		userID = u.ID
		u.PasswordResetToken = tokenValue
		u.PasswordResetSentAt = &now
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !found {
		return nil
	}

	if err := e.notifier.SendPasswordResetEmail(ctx, normalized, tokenValue); err != nil {
		e.logger.Warn("password reset email delivery failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditPasswordResetRequest, true, userID, 0, nil, nil)

	return nil
}

// ConfirmPasswordReset redeems a reset token within its window: the new
// password passes the strength policy, lockout counters reset, and every
// session is revoked so stolen refresh tokens die with the old password.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, tokenValue, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}
	if tokenValue == "" {
		return ErrInvalidResetToken
	}

	if err := CheckPasswordStrength(newPassword); err != nil {
		return err
	}

	hashed, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	window := e.config.PasswordReset.TokenTTL

	var (
		outErr error
		userID int64
	)

	err = e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByResetToken(ctx, tokenValue)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				outErr = ErrInvalidResetToken
				return nil
			}
			return err
		}
		userID = u.ID

		if u.PasswordResetSentAt == nil || now.Sub(*u.PasswordResetSentAt) > window {
			outErr = ErrInvalidResetToken
			return nil
		}

		u.PasswordHash = hashed
		u.PasswordChangedAt = &now
		u.PasswordResetToken = ""
		u.PasswordResetSentAt = nil
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		return tx.RevokeAllSessions(ctx, u.ID, now)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditPasswordResetConfirmFailure, false, userID, 0, outErr, nil)
		return outErr
	}

	e.invalidateUserCache(ctx, userID)
	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditPasswordResetConfirmSuccess, true, userID, 0, nil, nil)

	return nil
}
