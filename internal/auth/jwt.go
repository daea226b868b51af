package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Package-level signing state. The secret is random per process unless
// SetJWTSecret is called with a configured value.
var (
	jwtMu     sync.RWMutex
	jwtSecret []byte
	tokenTTL  = 24 * time.Hour
)

func init() {
	jwtSecret = make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		// Fallback for environments without entropy; overridden by config
		jwtSecret = []byte("development-secret-key-change-in-production")
	}
}

// Claims represents JWT claims carried by issued tokens.
type Claims struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a signed token for the given user.
func GenerateJWT(user *User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "pixel-sahur",
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	jwtMu.RLock()
	defer jwtMu.RUnlock()
	return token.SignedString(jwtSecret)
}

// ParseClaims validates the token signature and expiry and returns its claims.
func ParseClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		jwtMu.RLock()
		defer jwtMu.RUnlock()
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateJWT checks token validity and returns associated user info.
func ValidateJWT(tokenString string) (playerID uint64, isValid bool, isAdmin bool) {
	claims, err := ParseClaims(tokenString)
	if err != nil {
		return 0, false, false
	}
	return claims.UserID, true, claims.IsAdmin
}

// GenerateSecureSecret generates a new base64-encoded 32-byte secret.
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// SetJWTSecret installs a custom base64-encoded secret (production use).
func SetJWTSecret(secret string) error {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return err
	}
	if len(decoded) < 32 {
		return errors.New("secret key must be at least 32 bytes")
	}
	jwtMu.Lock()
	jwtSecret = decoded
	jwtMu.Unlock()
	return nil
}

// SetTokenTTL overrides the token lifetime (config driven).
func SetTokenTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	jwtMu.Lock()
	tokenTTL = ttl
	jwtMu.Unlock()
}

// TokenTTL returns the current token lifetime.
func TokenTTL() time.Duration {
	jwtMu.RLock()
	defer jwtMu.RUnlock()
	return tokenTTL
}
