package ledger

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// NormalizeSecurityAnswer folds case and surrounding whitespace before hashing.
func NormalizeSecurityAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

func HashSecurityAnswer(answer string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(NormalizeSecurityAnswer(answer)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifySecurityAnswer reports whether answer matches a hash from HashSecurityAnswer.
func VerifySecurityAnswer(hash, answer string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(NormalizeSecurityAnswer(answer))) == nil
}

func otpEqual(stored, given string) bool {
	if stored == "" || len(stored) != len(given) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
