// Package internaldefs holds the shared metric naming tables used by the
// Prometheus and OpenTelemetry exporters.
package internaldefs

import (
	"github.com/coursekit/authcore"
)

type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate email."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Login attempts against locked accounts."},
	{ID: authcore.MetricLoginThrottled, Name: "authcore_login_throttled_total", Help: "Login attempts rejected by the per-address throttle."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful access-token refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed access-token refreshes."},
	{ID: authcore.MetricVerifySuccess, Name: "authcore_verify_success_total", Help: "Successful access-token verifications."},
	{ID: authcore.MetricVerifyFailure, Name: "authcore_verify_failure_total", Help: "Failed access-token verifications."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logout operations."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Sessions revoked individually."},
	{ID: authcore.MetricSessionsCleaned, Name: "authcore_sessions_cleaned_total", Help: "Expired-session cleanup runs that removed rows."},
	{ID: authcore.MetricTwoFactorSetupInitiated, Name: "authcore_twofactor_setup_initiated_total", Help: "Two-factor setup initiations."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_twofactor_enabled_total", Help: "Two-factor activations."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_twofactor_disabled_total", Help: "Two-factor deactivations."},
	{ID: authcore.MetricTotpFailure, Name: "authcore_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Successful backup-code redemptions."},
	{ID: authcore.MetricBackupCodeFailed, Name: "authcore_backup_code_failed_total", Help: "Failed backup-code redemptions."},
	{ID: authcore.MetricBackupCodesRegenerated, Name: "authcore_backup_codes_regenerated_total", Help: "Backup-code regeneration operations."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password change attempts with a wrong current password."},
	{ID: authcore.MetricPasswordChangeReuseRejected, Name: "authcore_password_change_reuse_rejected_total", Help: "Password change attempts rejected for reuse."},
	{ID: authcore.MetricEmailVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Email verification requests."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: authcore.MetricPasswordResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricVerifyLatency, Name: "authcore_verify_latency_seconds", Help: "Access-token verification latency histogram."},
}

// HistogramBounds are the upper bounds of the core histogram buckets, in
// seconds, matching the engine's fixed millisecond boundaries.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in
// OpenTelemetry instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
