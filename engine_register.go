package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Register creates a user and their first session in one transaction, so a
// successful registration always leaves the caller logged in. Email
// uniqueness is enforced by the storage constraint; a concurrent duplicate
// surfaces as ErrEmailAlreadyRegistered no matter who wins the race.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*Profile, *TokenPair, error) {
	if e == nil {
		return nil, nil, ErrEngineNotReady
	}

	normalized := normalizeEmail(in.Email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return nil, nil, fmt.Errorf("%w: invalid email", ErrInvalidCredentials)
	}

	role := in.Role
	if role == "" {
		role = RoleStudent
	}
	if !role.Valid() {
		return nil, nil, fmt.Errorf("invalid role %q", role)
	}

	if err := CheckPasswordStrength(in.Password); err != nil {
		return nil, nil, err
	}

	hashed, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()

	var (
		outErr    error
		profile   *Profile
		pair      *TokenPair
		userID    int64
		sessionID int64
	)

	err = e.store.WithinTx(ctx, func(tx Store) error {
		u := &User{
			Email:        normalized,
			PasswordHash: hashed,
			FullName:     strings.TrimSpace(in.FullName),
			Role:         role,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := tx.CreateUser(ctx, u); err != nil {
			if errors.Is(err, ErrDuplicateEmail) {
				outErr = ErrEmailAlreadyRegistered
				return err // nothing to commit
			}
			return err
		}
		userID = u.ID

		sess, refreshToken, err := e.createSession(ctx, tx, u.ID, now)
		if err != nil {
			return err
		}
		sessionID = sess.ID

		pair, err = e.issuePair(u.ID, refreshToken)
		if err != nil {
			return err
		}

		profile = profileFromUser(u, 1)
		return nil
	})
	if outErr != nil {
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditRegisterDuplicate, false, 0, 0, outErr, func() map[string]string {
			return map[string]string{"email": normalized}
		})
		return nil, nil, outErr
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditRegisterSuccess, true, userID, sessionID, nil, nil)

	return profile, pair, nil
}

// ChangePassword re-verifies the current password, applies the strength
// policy to the new one, and revokes every session so outstanding refresh
// tokens die with the old credential.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	now := time.Now().UTC()

	var outErr error

	err := e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}

		if !e.hasher.Verify(oldPassword, u.PasswordHash) {
			outErr = ErrInvalidCredentials
			return nil
		}
		if oldPassword == newPassword {
			outErr = ErrPasswordReuse
			return nil
		}
		if err := CheckPasswordStrength(newPassword); err != nil {
			outErr = err
			return nil
		}

		hashed, err := e.hasher.Hash(newPassword)
		if err != nil {
			return err
		}

		u.PasswordHash = hashed
		u.PasswordChangedAt = &now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		return tx.RevokeAllSessions(ctx, userID, now)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if outErr != nil {
		switch {
		case errors.Is(outErr, ErrInvalidCredentials):
			e.metricInc(MetricPasswordChangeInvalidOld)
		case errors.Is(outErr, ErrPasswordReuse):
			e.metricInc(MetricPasswordChangeReuseRejected)
		}
		e.emitAudit(ctx, auditPasswordChangeFailure, false, userID, 0, outErr, nil)
		return outErr
	}

	e.invalidateUserCache(ctx, userID)
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditPasswordChangeSuccess, true, userID, 0, nil, nil)

	return nil
}
