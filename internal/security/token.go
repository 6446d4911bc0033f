package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avaropoint/camlink/internal/store"
)

// KeyPrefix marks camlink API keys so leaked keys are easy to grep for.
const KeyPrefix = "cam_"

// GenerateAPIKey creates a key of the form cam_<64 hex chars>. Only the
// hash and a display prefix are stored; the plaintext is returned once.
func GenerateAPIKey(name string) (*store.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("api key name is required")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}

	key := KeyPrefix + hex.EncodeToString(raw)
	apiKey := &store.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   HashAPIKey(key),
		Prefix:    key[:12],
		CreatedAt: time.Now(),
	}
	return apiKey, key, nil
}

// HashAPIKey returns the SHA-256 hash of an API key for DB lookup.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// LooksLikeAPIKey reports whether s has the shape of a generated key.
func LooksLikeAPIKey(s string) bool {
	if !strings.HasPrefix(s, KeyPrefix) || len(s) != len(KeyPrefix)+64 {
		return false
	}
	_, err := hex.DecodeString(s[len(KeyPrefix):])
	return err == nil
}
