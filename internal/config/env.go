package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "ICLOUDPD_CONFIG"

	// EnvClientID overrides the persisted per-installation client id.
	// Mostly useful for reproducing provider-side throttling decisions and
	// for deterministic test runs.
	EnvClientID = "CLIENT_ID"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // ICLOUDPD_CONFIG: override config file path
	ClientID   string // CLIENT_ID: fixed client id for this run
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ClientID:   os.Getenv(EnvClientID),
	}
}
