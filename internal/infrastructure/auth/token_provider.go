package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// Refresher trades a refresh token for a new token pair.
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// TokenProvider hands out the current access token, refreshing it shortly
// before it expires. Tokens are read without verifying the signature; the
// server does that.
type TokenProvider struct {
	refresher Refresher
	skew      time.Duration
	now       func() time.Time
	parser    *jwt.Parser

	mu      sync.Mutex
	access  string
	refresh string
}

func NewTokenProvider(access, refresh string, refresher Refresher, skew time.Duration) *TokenProvider {
	return &TokenProvider{
		refresher: refresher,
		skew:      skew,
		now:       time.Now,
		parser:    jwt.NewParser(),
		access:    access,
		refresh:   refresh,
	}
}

func (p *TokenProvider) GetValidAccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.access != "" && p.fresh(p.access) {
		return p.access, nil
	}
	if p.refresh == "" || p.refresher == nil {
		return "", apperrors.Unauthorized("access token expired and no refresh token available", nil)
	}

	access, refresh, err := p.refresher.RefreshTokens(ctx, p.refresh)
	if err != nil {
		logger.Warn("TokenProvider: refresh failed: %v", err)
		return "", apperrors.Unauthorized("access and refresh tokens are no longer valid", err)
	}
	p.access = access
	if refresh != "" {
		p.refresh = refresh
	}
	logger.Debug("TokenProvider: access token refreshed")
	return p.access, nil
}

// InvalidateAccessToken forgets token if it is still the current one.
func (p *TokenProvider) InvalidateAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.access == token {
		p.access = ""
	}
}

// fresh reports whether token stays valid for at least the configured skew.
// Tokens without an expiry are taken as valid.
func (p *TokenProvider) fresh(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := p.parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return p.now().Add(p.skew).Before(claims.ExpiresAt.Time)
}

// Tokens returns the current pair.
func (p *TokenProvider) Tokens() (access, refresh string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.access, p.refresh
}
