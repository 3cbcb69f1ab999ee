package authcore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Backup codes are two uppercase hex groups of four separated by a hyphen
// (e.g. "3F9A-C04D"). Only SHA-256 hashes are persisted, domain-separated
// per user so the same code enrolled by two users hashes differently.

func newBackupCode() (string, error) {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	code := strings.ToUpper(hex.EncodeToString(raw[:]))
	return code[:4] + "-" + code[4:], nil
}

func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// canonicalizeBackupCode normalizes user input: uppercase, hyphens and
// spaces stripped.
func canonicalizeBackupCode(code string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(code))
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	return cleaned
}

func backupCodeHash(userID int64, code string) [32]byte {
	canonical := canonicalizeBackupCode(code)
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(canonical))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
