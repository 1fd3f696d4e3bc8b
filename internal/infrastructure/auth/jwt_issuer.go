package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "chatsync/pkg/errors"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies the HS256 tokens the relay hands out.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &Issuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: 24 * time.Hour,
		now:        time.Now,
	}
}

func (i *Issuer) sign(userID, tokenType string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// IssuePair returns a fresh access and refresh token for userID.
func (i *Issuer) IssuePair(userID string) (access, refresh string, err error) {
	if access, err = i.sign(userID, TokenTypeAccess, i.accessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = i.sign(userID, TokenTypeRefresh, i.refreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Verify checks signature, expiry and token type and returns the user id.
func (i *Issuer) Verify(token, tokenType string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.Unauthorized("token expired", err)
		}
		return "", apperrors.Unauthorized("invalid token", err)
	}
	if claims.TokenType != tokenType {
		return "", apperrors.Unauthorized("wrong token type", nil)
	}
	if claims.Subject == "" {
		return "", apperrors.Unauthorized("token without subject", nil)
	}
	return claims.Subject, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (i *Issuer) Refresh(refreshToken string) (access, refresh string, err error) {
	userID, err := i.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return "", "", err
	}
	return i.IssuePair(userID)
}
