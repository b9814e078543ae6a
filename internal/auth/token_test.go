package auth

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService("")
	assert.Error(t, err)

	svc, err := NewTokenService("qualquer-coisa-serve")
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc, err := NewTokenService("segredo-de-teste")
	require.NoError(t, err)

	userID := uuid.New()
	tokenString, err := svc.NewAccessToken(userID)
	require.NoError(t, err)

	token, err := svc.ValidateToken(tokenString, TokenTypeAccess)
	require.NoError(t, err)

	got, err := svc.GetUserIDFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestTokenTypeIsEnforced(t *testing.T) {
	svc, err := NewTokenService("segredo-de-teste")
	require.NoError(t, err)

	userID := uuid.New()
	access, err := svc.NewAccessToken(userID)
	require.NoError(t, err)
	refresh, err := svc.NewRefreshToken(userID)
	require.NoError(t, err)

	// Um tipo nunca vale pelo outro
	_, err = svc.ValidateToken(access, TokenTypeRefresh)
	assert.Error(t, err)
	_, err = svc.ValidateToken(refresh, TokenTypeAccess)
	assert.Error(t, err)
}

func TestForgedTokensAreRejected(t *testing.T) {
	svc, err := NewTokenService("segredo-de-teste")
	require.NoError(t, err)

	// Lixo puro
	_, err = svc.ValidateToken("nem.parece.jwt", TokenTypeAccess)
	assert.Error(t, err)

	// Token assinado com outro segredo
	other, err := NewTokenService("outro-segredo")
	require.NoError(t, err)
	forged, err := other.NewAccessToken(uuid.New())
	require.NoError(t, err)
	_, err = svc.ValidateToken(forged, TokenTypeAccess)
	assert.Error(t, err)

	// Token "assinado" com alg none
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"x","type":"access"}`))
	_, err = svc.ValidateToken(header+"."+claims+".", TokenTypeAccess)
	assert.Error(t, err)
}
