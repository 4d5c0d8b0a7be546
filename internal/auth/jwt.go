package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Purpose separates the kinds of tokens signed with the same secret.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
	PurposeTemp    Purpose = "2fa"
)

var (
	ErrSecretNotInitialized = errors.New("JWT secret not initialized")
	ErrWrongPurpose         = errors.New("token used for the wrong purpose")
)

// JWTClaims represents the JWT token claims
type JWTClaims struct {
	UserID   string  `json:"user_id"`
	Username string  `json:"username"`
	Purpose  Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenTTLs sets the lifetime of each token kind
type TokenTTLs struct {
	Access  time.Duration
	Refresh time.Duration
	Temp    time.Duration
}

// Issuer signs and validates HS256 tokens
type Issuer struct {
	secret []byte
	ttls   TokenTTLs
	now    func() time.Time
}

// NewIssuer creates an Issuer with the given secret
func NewIssuer(secret string, ttls TokenTTLs) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		ttls:   ttls,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// IssuedToken is a signed token with its ID and expiry
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// AccessToken issues a bearer token for API calls
func (i *Issuer) AccessToken(userID, username string) (IssuedToken, error) {
	return i.issue(userID, username, PurposeAccess, i.ttls.Access)
}

// RefreshToken issues a single-use refresh token. Its ID is recorded by the
// caller so it can be revoked on use.
func (i *Issuer) RefreshToken(userID, username string) (IssuedToken, error) {
	return i.issue(userID, username, PurposeRefresh, i.ttls.Refresh)
}

// TempToken issues the credential accepted only by 2FA verification
func (i *Issuer) TempToken(userID, username string) (IssuedToken, error) {
	return i.issue(userID, username, PurposeTemp, i.ttls.Temp)
}

func (i *Issuer) issue(userID, username string, purpose Purpose, ttl time.Duration) (IssuedToken, error) {
	if len(i.secret) == 0 {
		return IssuedToken{}, ErrSecretNotInitialized
	}

	now := i.now()
	id := ulid.Make().String()
	claims := JWTClaims{
		UserID:   userID,
		Username: username,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return IssuedToken{Token: token, ID: id, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Validate validates a JWT token of the given purpose and returns the claims
func (i *Issuer) Validate(tokenString string, purpose Purpose) (*JWTClaims, error) {
	if len(i.secret) == 0 {
		return nil, ErrSecretNotInitialized
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}
