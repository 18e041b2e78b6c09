package project

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"
)

// KeyPrefix is the visible tag on every generated API key.
const KeyPrefix = "kb_"

// rawKeyBytes is the entropy of a generated key.
const rawKeyBytes = 32

// Scope is an API key permission level. admin implies write implies
// read.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// scopeRank orders scopes by privilege.
var scopeRank = map[Scope]int{
	ScopeRead:  1,
	ScopeWrite: 2,
	ScopeAdmin: 3,
}

// ValidScope reports whether s is a known scope.
func ValidScope(s Scope) bool {
	_, ok := scopeRank[s]
	return ok
}

// Satisfies reports whether any granted scope covers the required one.
func Satisfies(granted []Scope, required Scope) bool {
	need := scopeRank[required]
	if need == 0 {
		return false
	}
	for _, g := range granted {
		if scopeRank[g] >= need {
			return true
		}
	}
	return false
}

// APIKey is the stored record of one key. The raw key is returned to
// the caller exactly once at creation and never stored; only its
// SHA-256 hex digest is kept.
type APIKey struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Name       string     `json:"name"`
	Hash       string     `json:"-"`
	Scopes     []Scope    `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Expired reports whether the key has passed its expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// clone returns a copy safe to hand to callers.
func (k *APIKey) clone() *APIKey {
	out := *k
	out.Scopes = append([]Scope(nil), k.Scopes...)
	return &out
}

// GenerateKey returns a fresh raw key and its storage hash.
func GenerateKey() (raw, hash string, err error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = KeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashKey(raw), nil
}

// HashKey returns the SHA-256 hex digest of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// hashEqual compares two hash strings in constant time.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// WellFormedKey reports whether a raw key has the expected shape. A
// cheap pre-check before hashing; validation itself is by hash lookup.
func WellFormedKey(raw string) bool {
	if !strings.HasPrefix(raw, KeyPrefix) {
		return false
	}
	payload := strings.TrimPrefix(raw, KeyPrefix)
	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	return err == nil && len(decoded) == rawKeyBytes
}
