package authcore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

// codeForNow computes the currently valid TOTP code for a stored secret.
func codeForNow(t *testing.T, secretBase32 string, cfg TOTPConfig) string {
	t.Helper()

	secret, err := decodeTotpSecret(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := time.Now().UTC().Unix() / int64(cfg.Period)
	code, err := hotpCode(secret, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotp: %v", err)
	}
	return code
}

var backupCodePattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)

func enableTwoFactor(t *testing.T, engine *Engine, userID int64) (secret string, codes []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := engine.InitiateTwoFactorSetup(ctx, userID)
	if err != nil {
		t.Fatalf("InitiateTwoFactorSetup failed: %v", err)
	}

	codes, err = engine.CompleteTwoFactorSetup(ctx, userID, codeForNow(t, setup.Secret, engine.config.TOTP))
	if err != nil {
		t.Fatalf("CompleteTwoFactorSetup failed: %v", err)
	}
	return setup.Secret, codes
}

func TestTwoFactorSetupFlow(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, engine)

	setup, err := engine.InitiateTwoFactorSetup(ctx, profile.ID)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("empty secret")
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI %q", setup.URI)
	}
	if !strings.HasPrefix(setup.QRCodePNG, "data:image/png;base64,") {
		t.Fatalf("QR code is not a PNG data URI: %.40q", setup.QRCodePNG)
	}

	// Secret is stored pending, 2FA not yet on.
	u, err := store.GetUserByID(ctx, profile.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.TotpSecret != setup.Secret || u.TwoFactorEnabled {
		t.Fatalf("pending state wrong: secret=%q enabled=%v", u.TotpSecret, u.TwoFactorEnabled)
	}

	if _, err := engine.CompleteTwoFactorSetup(ctx, profile.ID, "000000"); !errors.Is(err, ErrInvalidTotpCode) {
		t.Fatalf("bad code: err = %v, want ErrInvalidTotpCode", err)
	}

	codes, err := engine.CompleteTwoFactorSetup(ctx, profile.ID, codeForNow(t, setup.Secret, engine.config.TOTP))
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("backup codes = %d, want 10", len(codes))
	}
	for _, code := range codes {
		if !backupCodePattern.MatchString(code) {
			t.Fatalf("backup code %q does not match XXXX-XXXX", code)
		}
	}

	u, err = store.GetUserByID(ctx, profile.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !u.TwoFactorEnabled || u.BackupCodesGeneratedAt == nil {
		t.Fatal("2FA not enabled after completion")
	}

	// Enabling twice is rejected.
	if _, err := engine.InitiateTwoFactorSetup(ctx, profile.ID); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("re-initiate: err = %v, want ErrTwoFactorAlreadyEnabled", err)
	}
}

func TestCompleteSetupWithoutInitiate(t *testing.T) {
	engine, _ := newTestEngine(t)

	profile, _ := registerTestUser(t, engine)

	_, err := engine.CompleteTwoFactorSetup(context.Background(), profile.ID, "123456")
	if !errors.Is(err, ErrSetupNotInitialized) {
		t.Fatalf("err = %v, want ErrSetupNotInitialized", err)
	}
}

func TestReinitiateOverwritesPendingSecret(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, engine)

	first, err := engine.InitiateTwoFactorSetup(ctx, profile.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.InitiateTwoFactorSetup(ctx, profile.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Secret == second.Secret {
		t.Fatal("re-initiate did not rotate the pending secret")
	}

	// Stale code from the abandoned secret no longer validates.
	if _, err := engine.CompleteTwoFactorSetup(ctx, profile.ID, codeForNow(t, first.Secret, engine.config.TOTP)); !errors.Is(err, ErrInvalidTotpCode) {
		t.Fatalf("stale secret code: err = %v, want ErrInvalidTotpCode", err)
	}
}

func TestVerifyTotpCode(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, engine)

	if err := engine.VerifyTotpCode(ctx, profile.ID, "123456"); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("disabled: err = %v, want ErrTwoFactorNotEnabled", err)
	}

	secret, _ := enableTwoFactor(t, engine, profile.ID)

	if err := engine.VerifyTotpCode(ctx, profile.ID, codeForNow(t, secret, engine.config.TOTP)); err != nil {
		t.Fatalf("valid code rejected: %v", err)
	}
	if err := engine.VerifyTotpCode(ctx, profile.ID, "000000"); !errors.Is(err, ErrInvalidTotpCode) {
		t.Fatalf("bad code: err = %v, want ErrInvalidTotpCode", err)
	}
}

func TestBackupCodesSingleUse(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, engine)
	_, codes := enableTwoFactor(t, engine, profile.ID)

	for _, code := range codes {
		ok, err := engine.VerifyBackupCode(ctx, profile.ID, code)
		if err != nil {
			t.Fatalf("redeem failed: %v", err)
		}
		if !ok {
			t.Fatalf("fresh code %q rejected", code)
		}
	}

	// Second redemption of every code fails.
	for _, code := range codes {
		ok, err := engine.VerifyBackupCode(ctx, profile.ID, code)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatalf("code %q redeemed twice", code)
		}
	}
}

func TestBackupCodeInputNormalization(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, engine)
	_, codes := enableTwoFactor(t, engine, profile.ID)

	// Lowercase, no hyphen, padded with spaces: still redeems.
	sloppy := " " + strings.ToLower(strings.ReplaceAll(codes[0], "-", "")) + " "
	ok, err := engine.VerifyBackupCode(ctx, profile.ID, sloppy)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("normalized input %q rejected", sloppy)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, engine)
	_, oldCodes := enableTwoFactor(t, engine, profile.ID)

	if _, err := engine.RegenerateBackupCodes(ctx, profile.ID, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}

	newCodes, err := engine.RegenerateBackupCodes(ctx, profile.ID, testPassword)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("new codes = %d, want 10", len(newCodes))
	}

	if ok, _ := engine.VerifyBackupCode(ctx, profile.ID, oldCodes[0]); ok {
		t.Fatal("old batch still redeemable after regeneration")
	}
	if ok, _ := engine.VerifyBackupCode(ctx, profile.ID, newCodes[0]); !ok {
		t.Fatal("new batch not redeemable")
	}
}

func TestDisableTwoFactor(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	profile, _ := registerTestUser(t, engine)

	if err := engine.DisableTwoFactor(ctx, profile.ID, testPassword, ""); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("not enabled: err = %v, want ErrTwoFactorNotEnabled", err)
	}

	secret, codes := enableTwoFactor(t, engine, profile.ID)

	if err := engine.DisableTwoFactor(ctx, profile.ID, "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if err := engine.DisableTwoFactor(ctx, profile.ID, testPassword, "000000"); !errors.Is(err, ErrInvalidTotpCode) {
		t.Fatalf("bad code: err = %v, want ErrInvalidTotpCode", err)
	}

	if err := engine.DisableTwoFactor(ctx, profile.ID, testPassword, codeForNow(t, secret, engine.config.TOTP)); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	u, err := store.GetUserByID(ctx, profile.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.TwoFactorEnabled || u.TotpSecret != "" || u.BackupCodesGeneratedAt != nil {
		t.Fatalf("2FA state not cleared: %+v", u)
	}
	if ok, _ := engine.VerifyBackupCode(ctx, profile.ID, codes[1]); ok {
		t.Fatal("backup code survived disable")
	}
}
