package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "chatsync/pkg/errors"
)

func TestIssuerRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	access, refresh, err := issuer.IssuePair("alice")
	require.NoError(t, err)

	uid, err := issuer.Verify(access, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	_, err = issuer.Verify(refresh, TokenTypeAccess)
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized), "refresh token is not an access token")

	_, err = NewIssuer("other", time.Minute).Verify(access, TokenTypeAccess)
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))
}

func TestIssuerRejectsExpired(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	base := time.Now()
	issuer.now = func() time.Time { return base }
	access, _, err := issuer.IssuePair("alice")
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = issuer.Verify(access, TokenTypeAccess)
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))
}

type stubRefresher struct {
	calls  int
	issuer *Issuer
	err    error
}

func (s *stubRefresher) RefreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	s.calls++
	if s.err != nil {
		return "", "", s.err
	}
	return s.issuer.Refresh(refreshToken)
}

func TestTokenProviderReusesFreshToken(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	access, refresh, _ := issuer.IssuePair("alice")
	stub := &stubRefresher{issuer: issuer}
	p := NewTokenProvider(access, refresh, stub, 30*time.Second)

	got, err := p.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
	assert.Equal(t, 0, stub.calls)
}

func TestTokenProviderRefreshesNearExpiry(t *testing.T) {
	issuer := NewIssuer("secret", 10*time.Second)
	access, refresh, _ := issuer.IssuePair("alice")
	stub := &stubRefresher{issuer: NewIssuer("secret", time.Hour)}
	p := NewTokenProvider(access, refresh, stub, 30*time.Second)

	got, err := p.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, access, got)
	assert.Equal(t, 1, stub.calls)

	uid, err := issuer.Verify(got, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
}

func TestTokenProviderFailsLoudly(t *testing.T) {
	stub := &stubRefresher{err: errors.New("refresh token revoked")}
	p := NewTokenProvider("not-a-jwt", "refresh", stub, time.Second)

	_, err := p.GetValidAccessToken(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))

	_, err = NewTokenProvider("", "", nil, time.Second).GetValidAccessToken(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))
}

func TestTokenProviderRefreshesInvalidatedToken(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	access, refresh, _ := issuer.IssuePair("alice")
	stub := &stubRefresher{issuer: issuer}
	p := NewTokenProvider(access, refresh, stub, 30*time.Second)

	p.InvalidateAccessToken("some-older-token")
	got, err := p.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
	assert.Equal(t, 0, stub.calls)

	p.InvalidateAccessToken(access)
	_, err = p.GetValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls, "a refused token is refreshed even before it expires")

	stub.err = errors.New("refresh token revoked")
	current, _ := p.Tokens()
	p.InvalidateAccessToken(current)
	_, err = p.GetValidAccessToken(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))
}
