package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	fallbackCodeLength = 6
)

// GenerateFallbackCode generates a random numeric single-use code
func GenerateFallbackCode() (string, error) {
	max := big.NewInt(10)
	digits := make([]byte, fallbackCodeLength)
	for i := range digits {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// HashCode hashes a code for storage
func HashCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	return base64.RawStdEncoding.EncodeToString(hash[:])
}

// VerifyCode verifies a code against its hash using constant-time comparison
func VerifyCode(code, storedHash string) bool {
	actualHash := HashCode(code)
	return subtle.ConstantTimeCompare([]byte(actualHash), []byte(storedHash)) == 1
}
