// internal/auth/auth.go
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CookieName is the ambient session credential carried by
// authenticated requests. Anonymous requests omit it and send the
// X-Session-ID header instead.
const CookieName = "storyforge_session"

// TokenConfig holds the signing configuration for session credentials.
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// Credential is a parsed session credential.
type Credential struct {
	UserID    string
	ExpiresAt int64
	IssuedAt  int64
}

// GenerateCredential signs a session credential for the given user.
func GenerateCredential(userID string, config *TokenConfig) (string, error) {
	if len(config.Secret) == 0 {
		return "", fmt.Errorf("secret key is required")
	}
	if userID == "" || strings.Contains(userID, "|") {
		return "", fmt.Errorf("invalid user id")
	}

	now := time.Now()
	payload := fmt.Sprintf("%s|%d|%d", userID, now.Add(config.Expiration).Unix(), now.Unix())

	h := hmac.New(sha256.New, config.Secret)
	h.Write([]byte(payload))
	signature := h.Sum(nil)

	encodedPayload := base64.URLEncoding.EncodeToString([]byte(payload))
	encodedSignature := base64.URLEncoding.EncodeToString(signature)

	return fmt.Sprintf("%s.%s", encodedPayload, encodedSignature), nil
}

// ParseCredential validates a credential and returns its contents.
func ParseCredential(tokenString string, config *TokenConfig) (*Credential, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("secret key is required")
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid credential format")
	}

	payloadBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid credential payload: %w", err)
	}
	signatureBytes, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid credential signature: %w", err)
	}

	expected := hmac.New(sha256.New, config.Secret)
	expected.Write(payloadBytes)
	if !hmac.Equal(signatureBytes, expected.Sum(nil)) {
		return nil, fmt.Errorf("invalid credential signature")
	}

	payloadParts := strings.Split(string(payloadBytes), "|")
	if len(payloadParts) != 3 {
		return nil, fmt.Errorf("invalid payload format")
	}

	expiresAt, err := strconv.ParseInt(payloadParts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry timestamp")
	}
	issuedAt, err := strconv.ParseInt(payloadParts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid issue timestamp")
	}

	if time.Now().Unix() > expiresAt {
		return nil, fmt.Errorf("credential has expired")
	}

	return &Credential{
		UserID:    payloadParts[0],
		ExpiresAt: expiresAt,
		IssuedAt:  issuedAt,
	}, nil
}

// GenerateSecureKey generates a random key for credential signing.
func GenerateSecureKey(length int) ([]byte, error) {
	if length <= 0 {
		length = 32
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
