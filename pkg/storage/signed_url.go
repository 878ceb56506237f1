package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner creates and validates signed media tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// SignedToken is an issued token and its expiry.
type SignedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignedClaims are the verified contents of a token.
type SignedClaims struct {
	ResourceID string
	Key        string
	ExpiresAt  time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign returns a token binding resourceID to the object key.
func (s *SignedURLSigner) Sign(resourceID, key string) (SignedToken, error) {
	if resourceID == "" || key == "" {
		return SignedToken{}, fmt.Errorf("resource id and key required")
	}
	if len(s.secret) == 0 {
		return SignedToken{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	token := strings.Join([]string{resourceID, ts, encodedKey, s.mac(resourceID, ts, encodedKey)}, ".")
	return SignedToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Verify checks signature and expiry.
func (s *SignedURLSigner) Verify(token string) (SignedClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedClaims{}, fmt.Errorf("invalid token format")
	}
	resourceID, ts, encodedKey, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.mac(resourceID, ts, encodedKey)), []byte(signature)) {
		return SignedClaims{}, fmt.Errorf("invalid token signature")
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SignedClaims{}, fmt.Errorf("invalid timestamp")
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return SignedClaims{}, fmt.Errorf("decode key: %w", err)
	}
	expiresAt := time.Unix(expUnix, 0)
	if s.now().After(expiresAt) {
		return SignedClaims{}, fmt.Errorf("token expired")
	}
	return SignedClaims{ResourceID: resourceID, Key: string(rawKey), ExpiresAt: expiresAt}, nil
}

func (s *SignedURLSigner) mac(resourceID, ts, encodedKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(resourceID + "|" + ts + "|" + encodedKey))
	return hex.EncodeToString(mac.Sum(nil))
}
