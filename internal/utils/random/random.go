package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CharsetLowerAlphaNum is the default charset.
const CharsetLowerAlphaNum = "abcdefghijklmnopqrstuvwxyz0123456789"

// String generates a random string from the given charset.
func String(length int, charset string) (string, error) {
	if length <= 0 {
		return "", nil
	}
	if charset == "" {
		charset = CharsetLowerAlphaNum
	}

	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("generate random index: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// LowerAlphaNum generates a random lowercase alphanumeric string.
// Used for the random suffix of payment references.
func LowerAlphaNum(length int) string {
	s, _ := String(length, CharsetLowerAlphaNum)
	return s
}
