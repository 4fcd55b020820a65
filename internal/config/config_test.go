package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", strings.Repeat("k", 32))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.OTP.CodeMin)
	assert.Equal(t, 9999, cfg.OTP.CodeMax)
	assert.Equal(t, 5*time.Minute, cfg.OTP.Expiry)
	assert.Equal(t, 2*time.Minute, cfg.OTP.Cooldown)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, SMSModeLog, cfg.SMS.Mode)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET_KEY", "too-short")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadGatewayModeNeedsCredentials(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", strings.Repeat("k", 32))
	t.Setenv("SMS_MODE", SMSModeGateway)

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SMS_GATEWAY_URL", "https://sms.example.com")
	t.Setenv("SMS_GATEWAY_API_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, SMSModeGateway, cfg.SMS.Mode)
}

func TestLoadRejectsBadCodeRange(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", strings.Repeat("k", 32))
	t.Setenv("OTP_CODE_MIN", "5000")
	t.Setenv("OTP_CODE_MAX", "1000")

	_, err := Load()
	assert.Error(t, err)
}
