package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InitiateTwoFactorSetup generates a fresh TOTP secret for the user and
// stores it unconfirmed. Re-initiating overwrites any pending secret;
// abandoned setups are harmless because 2FA only turns on after
// CompleteTwoFactorSetup proves code possession.
func (e *Engine) InitiateTwoFactorSetup(ctx context.Context, userID int64) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	var (
		outErr error
		email  string
	)

	err = e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.TwoFactorEnabled {
			outErr = ErrTwoFactorAlreadyEnabled
			return nil
		}

		email = u.Email
		u.TotpSecret = secretBase32
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		return nil, outErr
	}

	uri := e.totp.ProvisionURI(secretBase32, email)
	qr, err := e.totp.QRCodeDataURI(uri)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorSetupInitiated)
	e.emitAudit(ctx, auditTwoFactorSetupInitiated, true, userID, 0, nil, nil)

	return &TwoFactorSetup{
		Secret:    secretBase32,
		URI:       uri,
		QRCodePNG: qr,
	}, nil
}

// CompleteTwoFactorSetup verifies the first code against the pending secret
// and enables 2FA. The returned backup codes are plaintext and shown
// exactly once; only their hashes are stored, in the same transaction that
// flips the enabled flag.
func (e *Engine) CompleteTwoFactorSetup(ctx context.Context, userID int64, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	codes, err := generateBackupCodes(e.config.TOTP.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([][32]byte, len(codes))
	for i, c := range codes {
		hashes[i] = backupCodeHash(userID, c)
	}

	now := time.Now().UTC()

	var outErr error

	err = e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.TwoFactorEnabled {
			outErr = ErrTwoFactorAlreadyEnabled
			return nil
		}
		if u.TotpSecret == "" {
			outErr = ErrSetupNotInitialized
			return nil
		}

		secret, err := decodeTotpSecret(u.TotpSecret)
		if err != nil {
			outErr = ErrSetupNotInitialized
			return nil
		}
		ok, err := e.totp.VerifyCode(secret, code, now)
		if err != nil {
			return err
		}
		if !ok {
			outErr = ErrInvalidTotpCode
			return nil
		}

		u.TwoFactorEnabled = true
		u.BackupCodesGeneratedAt = &now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		return tx.ReplaceRecoveryCodes(ctx, userID, hashes)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		if errors.Is(outErr, ErrInvalidTotpCode) {
			e.metricInc(MetricTotpFailure)
			e.emitAudit(ctx, auditTotpFailure, false, userID, 0, outErr, nil)
		}
		return nil, outErr
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditTwoFactorEnabled, true, userID, 0, nil, nil)

	return codes, nil
}

// DisableTwoFactor turns 2FA off after re-verifying the password. When a
// TOTP code is supplied it must validate too; an empty code is accepted so
// an account recovered through other means can still be cleaned up.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID int64, currentPassword, totpCode string) error {
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
		if !u.TwoFactorEnabled {
			outErr = ErrTwoFactorNotEnabled
			return nil
		}
		if !e.hasher.Verify(currentPassword, u.PasswordHash) {
			outErr = ErrInvalidCredentials
			return nil
		}

		if totpCode != "" {
			secret, err := decodeTotpSecret(u.TotpSecret)
			if err != nil {
				return err
			}
			ok, err := e.totp.VerifyCode(secret, totpCode, now)
			if err != nil {
				return err
			}
			if !ok {
				outErr = ErrInvalidTotpCode
				return nil
			}
		}

		u.TwoFactorEnabled = false
		u.TotpSecret = ""
		u.BackupCodesGeneratedAt = nil
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		return tx.DeleteRecoveryCodes(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		if errors.Is(outErr, ErrInvalidTotpCode) {
			e.metricInc(MetricTotpFailure)
		}
		e.emitAudit(ctx, auditTwoFactorDisabled, false, userID, 0, outErr, nil)
		return outErr
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditTwoFactorDisabled, true, userID, 0, nil, nil)

	return nil
}

// VerifyTotpCode checks a challenge code for a user with 2FA enabled.
func (e *Engine) VerifyTotpCode(ctx context.Context, userID int64, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !u.TwoFactorEnabled || u.TotpSecret == "" {
		return ErrTwoFactorNotEnabled
	}

	secret, err := decodeTotpSecret(u.TotpSecret)
	if err != nil {
		return fmt.Errorf("corrupt totp secret for user %d: %v", userID, err)
	}

	ok, err := e.totp.VerifyCode(secret, code, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTotpFailure)
		e.emitAudit(ctx, auditTotpFailure, false, userID, 0, ErrInvalidTotpCode, nil)
		return ErrInvalidTotpCode
	}

	return nil
}

// VerifyBackupCode redeems a single-use backup code. A wrong code and an
// already-used code are indistinguishable to the caller: both return false.
func (e *Engine) VerifyBackupCode(ctx context.Context, userID int64, code string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	now := time.Now().UTC()
	hash := backupCodeHash(userID, code)

	var (
		outErr   error
		consumed bool
	)

	err := e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if !u.TwoFactorEnabled {
			outErr = ErrTwoFactorNotEnabled
			return nil
		}

		consumed, err = tx.ConsumeRecoveryCode(ctx, userID, hash, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		return false, outErr
	}

	if !consumed {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditBackupCodeFailed, false, userID, 0, ErrInvalidBackupCode, nil)
		return false, nil
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditBackupCodeUsed, true, userID, 0, nil, nil)

	return true, nil
}

// RegenerateBackupCodes replaces the entire batch after re-verifying the
// password. Old codes stop working the instant the transaction commits.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID int64, currentPassword string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	codes, err := generateBackupCodes(e.config.TOTP.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([][32]byte, len(codes))
	for i, c := range codes {
		hashes[i] = backupCodeHash(userID, c)
	}

	now := time.Now().UTC()

	var outErr error

	err = e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if !u.TwoFactorEnabled {
			outErr = ErrTwoFactorNotEnabled
			return nil
		}
		if !e.hasher.Verify(currentPassword, u.PasswordHash) {
			outErr = ErrInvalidCredentials
			return nil
		}

		u.BackupCodesGeneratedAt = &now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		return tx.ReplaceRecoveryCodes(ctx, userID, hashes)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		return nil, outErr
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditBackupCodesRegenerated, true, userID, 0, nil, nil)

	return codes, nil
}
