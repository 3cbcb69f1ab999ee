package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestEmailVerification issues a fresh opaque verification token for the
// user and hands it to the Notifier. Already-verified accounts are a no-op.
// Notifier failures are logged, not returned: the token is persisted and a
// later re-request will mint a new one.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID int64) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return ErrEmailVerificationDisabled
	}

	tokenValue := uuid.NewString()
	now := time.Now().UTC()

	var (
		email       string
		alreadyDone bool
	)

	err := e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.EmailVerified {
			alreadyDone = true
			return nil
		}

		email = u.Email
		u.EmailVerificationToken = tokenValue
		u.EmailVerificationSentAt = &now
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if alreadyDone {
		return nil
	}

	if err := e.notifier.SendVerificationEmail(ctx, email, tokenValue); err != nil {
		e.logger.Warn("verification email delivery failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEmailVerificationRequest, true, userID, 0, nil, nil)

	return nil
}

// ConfirmEmailVerification redeems a verification token within its window,
// marking the account verified and clearing the token.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, tokenValue string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return ErrEmailVerificationDisabled
	}
	if tokenValue == "" {
		return ErrInvalidVerificationToken
	}

	now := time.Now().UTC()
	window := e.config.EmailVerification.TokenTTL

	var (
		outErr error
		userID int64
	)

	err := e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByVerificationToken(ctx, tokenValue)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				outErr = ErrInvalidVerificationToken
				return nil
			}
			return err
		}
		userID = u.ID

		if u.EmailVerificationSentAt == nil || now.Sub(*u.EmailVerificationSentAt) > window {
			outErr = ErrInvalidVerificationToken
			return nil
		}

		u.EmailVerified = true
		u.EmailVerificationToken = ""
		u.EmailVerificationSentAt = nil
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEmailVerificationFailure, false, userID, 0, outErr, nil)
		return outErr
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEmailVerificationSuccess, true, userID, 0, nil, nil)

	return nil
}
