package stores

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateAPIKey returns a 32 character random shared secret
func GenerateAPIKey() (string, error) {
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	key := make([]byte, 32)
	for i := range key {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		key[i] = apiKeyAlphabet[n.Int64()]
	}
	return string(key), nil
}

// GenerateSecureToken returns n random bytes hex encoded
func GenerateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
