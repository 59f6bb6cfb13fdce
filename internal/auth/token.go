// Package auth issues and verifies the signed session tokens shared by
// the HTTP middleware and the realtime handshake.
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jobtrackr/apiserver/types"
)

// TokenTTL is the fixed session lifetime. Tokens are not refreshable;
// an expiring token forces a fresh login.
const TokenTTL = 30 * 24 * time.Hour

// ErrInvalidToken covers every verification failure: malformed
// encoding, signature mismatch, and expiry. Callers treat them all as
// one unauthorized outcome.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the decoded content of a session token. Email and Role are
// identity snapshots from issuance time; authorization decisions must
// re-load the user record instead of trusting Role here.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the token subject into a user id.
func (c Claims) UserID() (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(c.Subject))
	if err != nil || id < 1 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// TokenService signs and verifies session tokens with a server-held
// HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService constructs a TokenService. The secret must be
// non-empty; callers treat a missing secret as fatal startup
// misconfiguration.
func NewTokenService(secret string) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	return &TokenService{secret: []byte(secret), ttl: TokenTTL}, nil
}

// Issue encodes the user's id, email and role into a signed token.
func (s *TokenService) Issue(user types.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature and expiry and returns the decoded claims.
// All failures collapse into ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
