package service

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmart/voltmart/internal/config"
)

func newTestJWTService(t *testing.T) *JWTService {
	t.Helper()
	svc, err := NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, logrus.New())
	require.NoError(t, err)
	return svc
}

func TestNewJWTServiceRejectsShortKey(t *testing.T) {
	_, err := NewJWTService(&config.JWTConfig{SecretKey: "short"}, logrus.New())
	assert.Error(t, err)
}

func TestIssueTokenPair(t *testing.T) {
	svc := newTestJWTService(t)

	pair, familyID, err := svc.IssueTokenPair("9876543210", "")
	require.NoError(t, err)
	assert.NotEmpty(t, familyID)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), pair.ExpiresIn)

	access, err := svc.VerifyToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access", access.Type)
	assert.Equal(t, "9876543210", access.Phone)
	assert.NotEmpty(t, access.JTI)

	refresh, err := svc.VerifyToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refresh.Type)
	assert.NotEqual(t, access.JTI, refresh.JTI)
}

func TestIssueTokenPairKeepsFamily(t *testing.T) {
	svc := newTestJWTService(t)

	_, familyID, err := svc.IssueTokenPair("9876543210", "existing-family")
	require.NoError(t, err)
	assert.Equal(t, "existing-family", familyID)
}

func TestRefreshTokens(t *testing.T) {
	svc := newTestJWTService(t)

	pair, familyID, err := svc.IssueTokenPair("9876543210", "")
	require.NoError(t, err)

	newPair, newFamilyID, err := svc.RefreshTokens(pair.RefreshToken, familyID)
	require.NoError(t, err)
	assert.Equal(t, familyID, newFamilyID)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	// An access token cannot be used to refresh.
	_, _, err = svc.RefreshTokens(pair.AccessToken, familyID)
	assert.Error(t, err)
}

func TestVerifyTokenTampered(t *testing.T) {
	svc := newTestJWTService(t)

	pair, _, err := svc.IssueTokenPair("9876543210", "")
	require.NoError(t, err)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	_, err = svc.VerifyToken(tampered)
	assert.Error(t, err)

	// A token signed with a different key is rejected too.
	other, err := NewJWTService(&config.JWTConfig{
		SecretKey:     strings.Repeat("k", 32),
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Hour,
	}, logrus.New())
	require.NoError(t, err)

	foreign, _, err := other.IssueTokenPair("9876543210", "")
	require.NoError(t, err)
	_, err = svc.VerifyToken(foreign.AccessToken)
	assert.Error(t, err)
}

func TestGenerateSecretKey(t *testing.T) {
	key, err := GenerateSecretKey()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(key), 32)
}
