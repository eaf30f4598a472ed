package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	PrefixDeposit    = "DEP"
	PrefixWithdrawal = "WTH"
	PrefixTransfer   = "TRF"
	PrefixTopUp      = "TOP"

	otpDigits = 6
)

// NewReference returns prefix followed by 8 uppercase hex characters.
func NewReference(prefix string) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	return prefix + strings.ToUpper(hex.EncodeToString(b[:])), nil
}

// ValidReference reports whether ref has a known prefix and 8 uppercase hex characters.
func ValidReference(ref string) bool {
	if len(ref) != 11 {
		return false
	}
	switch ref[:3] {
	case PrefixDeposit, PrefixWithdrawal, PrefixTransfer, PrefixTopUp:
	default:
		return false
	}
	for _, c := range ref[3:] {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func newOTP() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
