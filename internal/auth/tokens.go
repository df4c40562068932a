package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	AccessTokenTTL  = 30 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims carries the JWT payload for both access and refresh tokens. Access
// tokens embed the user's identity and permission set; refresh tokens only
// carry the subject and a jti for server-side revocation.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair bundles a freshly minted access and refresh token. RefreshTokenID
// and RefreshExpiresAt identify the refresh token for persistence, so it can
// be revoked before its expiry.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshTokenID   string
	RefreshExpiresAt time.Time
}

// MintAccessToken signs a short-lived access token for the given identity.
// The permission set is derived from the role at mint time.
func MintAccessToken(secret []byte, userID, email, role, tenantID string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:       email,
		Role:        role,
		TenantID:    tenantID,
		Permissions: PermissionsForRole(role),
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// MintRefreshToken signs a long-lived refresh token. The returned jti and
// expiry are what the caller persists; the token itself is only ever stored
// hashed.
func MintRefreshToken(secret []byte, userID string) (token string, jti string, expiresAt time.Time, err error) {
	jti, err = gonanoid.New()
	if err != nil {
		return "", "", time.Time{}, err
	}

	now := time.Now()
	expiresAt = now.Add(RefreshTokenTTL)
	claims := Claims{
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// MintTokenPair mints an access and a refresh token for the same identity.
func MintTokenPair(secret []byte, userID, email, role, tenantID string) (*TokenPair, error) {
	access, err := MintAccessToken(secret, userID, email, role, tenantID)
	if err != nil {
		return nil, err
	}
	refresh, jti, expiresAt, err := MintRefreshToken(secret, userID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(AccessTokenTTL.Seconds()),
		RefreshTokenID:   jti,
		RefreshExpiresAt: expiresAt,
	}, nil
}

// LocalKeyfunc returns a jwt.Keyfunc for tokens signed with the local HS256
// secret. Tokens signed with any other method are rejected.
func LocalKeyfunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	}
}

// VerifyToken parses and validates a token with the given keyfunc. The
// keyfunc decides the trust anchor: LocalKeyfunc for self-issued tokens, or a
// JWKS keyfunc when an external identity provider is configured.
func VerifyToken(tokenString string, kf jwt.Keyfunc) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, kf)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccessToken validates an access token against the local secret.
func VerifyAccessToken(secret []byte, tokenString string) (*Claims, error) {
	claims, err := VerifyToken(tokenString, LocalKeyfunc(secret))
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyRefreshToken validates a refresh token against the local secret.
// Revocation is checked separately against the persisted token record.
func VerifyRefreshToken(secret []byte, tokenString string) (*Claims, error) {
	claims, err := VerifyToken(tokenString, LocalKeyfunc(secret))
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// HashToken returns the hex sha256 of a token. Refresh tokens are persisted
// in this form, so a database leak does not leak usable tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
