package mockserver

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// KeyRegistry validates SDK public keys against their SHA-256 hashes. An
// empty registry accepts any non-blank key.
type KeyRegistry struct {
	hashes []string
}

// NewKeyRegistry creates a registry from hex-encoded key hashes.
func NewKeyRegistry(keyHashes []string) *KeyRegistry {
	r := &KeyRegistry{}
	for _, h := range keyHashes {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.hashes = append(r.hashes, h)
		}
	}
	return r
}

// Validate checks publicKey and returns its hash.
func (r *KeyRegistry) Validate(publicKey string) (string, error) {
	if strings.TrimSpace(publicKey) == "" {
		return "", fmt.Errorf("missing public key")
	}
	keyHash := HashKey(publicKey)
	if len(r.hashes) == 0 {
		return keyHash, nil
	}

	// Compare against every hash so timing does not reveal which matched.
	matched := 0
	for _, h := range r.hashes {
		matched |= subtle.ConstantTimeCompare([]byte(keyHash), []byte(h))
	}
	if matched != 1 {
		return "", fmt.Errorf("invalid public key")
	}
	return keyHash, nil
}

// HashKey creates a SHA-256 hash of a key for configuration.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GenerateKey returns a random key with the given prefix, e.g. "pk_".
func GenerateKey(prefix string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// ExtractBearer extracts the token from the Authorization header.
func ExtractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}
