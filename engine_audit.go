package authcore

import (
	"context"
	"errors"
	"time"
)

// Audit event types, one per engine outcome.
const (
	auditRegisterSuccess   = "register_success"
	auditRegisterDuplicate = "register_duplicate"

	auditLoginSuccess   = "login_success"
	auditLoginFailure   = "login_failure"
	auditLoginLocked    = "login_locked"
	auditLoginThrottled = "login_throttled"

	auditRefreshSuccess = "refresh_success"
	auditRefreshInvalid = "refresh_invalid"
	auditVerifyFailure  = "verify_failure"

	auditLogoutSession   = "logout_session"
	auditLogoutAll       = "logout_all"
	auditSessionRevoked  = "session_revoked"
	auditSessionsCleaned = "sessions_cleaned"

	auditTwoFactorSetupInitiated = "twofactor_setup_initiated"
	auditTwoFactorEnabled        = "twofactor_enabled"
	auditTwoFactorDisabled       = "twofactor_disabled"
	auditTotpFailure             = "totp_failure"
	auditBackupCodeUsed          = "backup_code_used"
	auditBackupCodeFailed        = "backup_code_failed"
	auditBackupCodesRegenerated  = "backup_codes_regenerated"

	auditPasswordChangeSuccess = "password_change_success"
	auditPasswordChangeFailure = "password_change_failure"

	auditEmailVerificationRequest = "email_verification_request"
	auditEmailVerificationSuccess = "email_verification_success"
	auditEmailVerificationFailure = "email_verification_failure"

	auditPasswordResetRequest        = "password_reset_request"
	auditPasswordResetConfirmSuccess = "password_reset_confirm_success"
	auditPasswordResetConfirmFailure = "password_reset_confirm_failure"
)

// emitAudit queues an event if the dispatcher is running. metadataBuilder
// is only invoked when auditing is enabled, so callers can defer map
// construction on the hot path.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID int64, opErr error, metadataBuilder func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if opErr != nil {
		event.Error = auditErrorCode(opErr)
	}
	if metadataBuilder != nil {
		event.Metadata = metadataBuilder()
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode collapses engine errors to stable machine-readable codes
// so sinks never see raw error strings.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountDeactivated), errors.Is(err, ErrUserInactive):
		return "account_inactive"
	case errors.Is(err, ErrEmailAlreadyRegistered), errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	case errors.Is(err, ErrInvalidAccessToken):
		return "invalid_access_token"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return "twofactor_not_enabled"
	case errors.Is(err, ErrTwoFactorAlreadyEnabled):
		return "twofactor_already_enabled"
	case errors.Is(err, ErrSetupNotInitialized):
		return "twofactor_setup_missing"
	case errors.Is(err, ErrInvalidTotpCode):
		return "invalid_totp_code"
	case errors.Is(err, ErrInvalidBackupCode):
		return "invalid_backup_code"
	case errors.Is(err, ErrInvalidVerificationToken):
		return "invalid_verification_token"
	case errors.Is(err, ErrInvalidResetToken):
		return "invalid_reset_token"
	case errors.Is(err, ErrLoginThrottled):
		return "login_throttled"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}
