package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const OTPLength = 6

// GenerateNumericOTP returns n uniformly random digits; leading zeros are kept.
func GenerateNumericOTP(n int) (string, error) {
	if n <= 0 {
		n = OTPLength
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	num, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", n, num), nil
}

// IsNumericOTP reports whether s is exactly n ASCII digits.
func IsNumericOTP(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
