package fubon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"FUBON_BASE_URL", "FUBON_LOGIN_URL", "FUBON_TIMEOUT", "FUBON_MAX_RETRIES", "FUBON_RETRY_BACKOFF"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, defaultBaseURL, cfg.BaseURL)
	assert.Equal(t, defaultBaseURL+"/auth/login", cfg.LoginURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("FUBON_USERNAME", "A123456789")
	t.Setenv("FUBON_PASSWORD", "pw")
	t.Setenv("FUBON_PFX_PATH", "/certs/a.pfx")
	t.Setenv("FUBON_BASE_URL", "https://md.example.com")
	t.Setenv("FUBON_LOGIN_URL", "https://login.example.com/api")
	t.Setenv("FUBON_TIMEOUT", "3s")
	t.Setenv("FUBON_MAX_RETRIES", "5")
	t.Setenv("FUBON_RETRY_BACKOFF", "not-a-duration")

	cfg := LoadConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "https://md.example.com", cfg.BaseURL)
	assert.Equal(t, "https://login.example.com/api", cfg.LoginURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, defaultRetryBackoff, cfg.RetryBackoff, "invalid value falls back to default")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, Config{}.Validate(), ErrMissingCredentials)
	assert.ErrorIs(t, Config{Username: "u", Password: "p"}.Validate(), ErrMissingCredentials)
	assert.NoError(t, Config{Username: "u", Password: "p", PFXPath: "x.pfx"}.Validate())
}
