package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfigForTest() *Config {
	cfg := DefaultConfig()
	cfg.Auth.Username = "jdoe@example.com"
	cfg.Download.Directory = "/photos"

	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(validConfigForTest()))
}

func TestValidate_Domain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"com", "com", false},
		{"cn", "cn", false},
		{"empty", "", true},
		{"unsupported", "org", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfigForTest()
			cfg.Auth.Domain = tt.domain

			err := Validate(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "domain")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_Sizes(t *testing.T) {
	tests := []struct {
		name    string
		sizes   []string
		wantErr string
	}{
		{"original", []string{"original"}, ""},
		{"all-valid", []string{"original", "medium", "thumb", "adjusted", "alternative"}, ""},
		{"empty", []string{}, "sizes: must name at least one"},
		{"unknown", []string{"original", "gigantic"}, `got "gigantic"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfigForTest()
			cfg.Download.Sizes = tt.sizes

			err := Validate(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_LivePhotoSize(t *testing.T) {
	cfg := validConfigForTest()
	cfg.Download.LivePhotoSize = "thumb"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live_photo_size")
}

func TestValidate_Threads(t *testing.T) {
	cfg := validConfigForTest()
	cfg.Download.Threads = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads")

	cfg.Download.Threads = 129
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads")
}

func TestValidate_Retry(t *testing.T) {
	cfg := validConfigForTest()
	cfg.Retry.MaxRetries = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")

	cfg = validConfigForTest()
	cfg.Retry.WaitSeconds = -1

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait_seconds")
}

func TestValidate_WatchInterval(t *testing.T) {
	cfg := validConfigForTest()
	cfg.Watch.IntervalSeconds = -5

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_seconds")
}

func TestValidate_NetworkTimeouts(t *testing.T) {
	cfg := validConfigForTest()
	cfg.Network.ConnectTimeout = "not-a-duration"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout")

	cfg = validConfigForTest()
	cfg.Network.DataTimeout = "1ms"

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_timeout")
}

func TestValidate_SMTP(t *testing.T) {
	cfg := validConfigForTest()
	cfg.SMTP.Port = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")

	cfg = validConfigForTest()
	cfg.SMTP.Host = ""
	cfg.SMTP.NotificationEmail = "jdoe@example.com"

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := validConfigForTest()
	cfg.Auth.Domain = "org"
	cfg.Download.Threads = 0
	cfg.Logging.LogLevel = "verbose"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain")
	assert.Contains(t, err.Error(), "threads")
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidateSettings_CatchesCLIIntroducedErrors(t *testing.T) {
	settings := &Settings{
		Auth:     defaultAuthConfig(),
		Download: defaultDownloadConfig(),
		Retry:    defaultRetryConfig(),
		Network:  defaultNetworkConfig(),
		Logging:  defaultLoggingConfig(),
		SMTP:     defaultSMTPConfig(),
	}
	settings.Download.LivePhotoSize = "thumb"

	err := ValidateSettings(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live_photo_size")
}
