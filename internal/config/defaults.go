package config

import "runtime"

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and match what the CLI does when invoked
// with nothing but --username.
const (
	defaultDomain          = "com"
	defaultAlbum           = "All Photos"
	defaultSize            = "original"
	defaultLivePhotoSize   = "original"
	defaultFolderStructure = "{:%Y/%m/%d}"
	defaultMaxRetries      = 5
	defaultRetryWait       = 30
	defaultLogLevel        = "info"
	defaultConnectTimeout  = "30s"
	defaultDataTimeout     = "30s"
	defaultSMTPHost        = "smtp.gmail.com"
	defaultSMTPPort        = 587

	// maxDefaultThreads caps the worker count derived from GOMAXPROCS so a
	// many-core host does not hammer the provider.
	maxDefaultThreads = 16
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Auth:     defaultAuthConfig(),
		Download: defaultDownloadConfig(),
		Retry:    defaultRetryConfig(),
		Network:  defaultNetworkConfig(),
		Logging:  defaultLoggingConfig(),
		SMTP:     defaultSMTPConfig(),
	}
}

func defaultAuthConfig() AuthConfig {
	return AuthConfig{
		CookieDirectory: DefaultCookieDir(),
		Domain:          defaultDomain,
	}
}

// defaultDownloadConfig leaves Directory empty: there is no safe default
// library root, so the CLI demands one explicitly.
func defaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		Album:           defaultAlbum,
		Sizes:           []string{defaultSize},
		LivePhotoSize:   defaultLivePhotoSize,
		Threads:         DefaultThreads(),
		FolderStructure: defaultFolderStructure,
	}
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  defaultMaxRetries,
		WaitSeconds: defaultRetryWait,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel: defaultLogLevel,
	}
}

// defaultSMTPConfig carries working transport defaults, but no mail is sent
// until a username or notification address is configured.
func defaultSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host: defaultSMTPHost,
		Port: defaultSMTPPort,
	}
}

// DefaultThreads returns the default download worker count: one per CPU,
// capped at maxDefaultThreads.
func DefaultThreads() int {
	n := runtime.NumCPU()
	if n > maxDefaultThreads {
		return maxDefaultThreads
	}

	return n
}
