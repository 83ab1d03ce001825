// Package auth generates and verifies the API keys that protect the
// dashboard API. Only a bcrypt hash of the key is ever stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of an API key
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys
	APIKeyPrefix = "rr"
	// BcryptCost is the bcrypt cost for hashing API keys
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length for bcrypt (72 bytes)
	BcryptMaxInputLength = 72

	minKeyLength = 15
	maxKeyLength = 50
)

// GeneratedAPIKey is a new API key together with the hash to configure.
type GeneratedAPIKey struct {
	Key    string `json:"key"`
	Hash   string `json:"hash"`
	Prefix string `json:"prefix"`
}

// GenerateAPIKey creates a random key and its bcrypt hash. cost <= 0 uses
// BcryptCost.
func GenerateAPIKey(cost int) (*GeneratedAPIKey, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters
	randomPart := strings.ToLower(base32.StdEncoding.EncodeToString(randomBytes))[:APIKeyLength]
	key := APIKeyPrefix + "_" + randomPart

	hash, err := HashAPIKey(key, cost)
	if err != nil {
		return nil, err
	}

	return &GeneratedAPIKey{
		Key:    key,
		Hash:   hash,
		Prefix: DisplayPrefix(key),
	}, nil
}

// HashAPIKey creates a bcrypt hash of an API key for the config file.
func HashAPIKey(apiKey string, cost int) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}
	if cost <= 0 {
		cost = BcryptCost
	}

	hash, err := bcrypt.GenerateFromPassword(keyBytes(apiKey), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey checks if a provided API key matches the stored hash
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), keyBytes(apiKey)) == nil
}

// keyBytes pre-hashes keys longer than bcrypt accepts.
func keyBytes(apiKey string) []byte {
	b := []byte(apiKey)
	if len(b) > BcryptMaxInputLength {
		sum := sha256.Sum256(b)
		return sum[:]
	}
	return b
}

// IsValidAPIKeyFormat checks if an API key has the generated shape.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < minKeyLength || len(apiKey) > maxKeyLength {
		return false
	}

	for _, char := range apiKey {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' {
			return false
		}
	}
	return true
}

// DisplayPrefix returns a log-safe prefix of an API key.
func DisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}

	parts := strings.SplitN(apiKey, "_", 2)
	if len(parts[1]) >= 8 {
		return fmt.Sprintf("%s_%s...", parts[0], parts[1][:8])
	}
	return fmt.Sprintf("%s_%s...", parts[0], parts[1])
}
