// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for icloudpd. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) so
// the config file holds durable preferences while any of them can still be
// overridden for a single run without editing the file.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// Every field has a working default; a missing config file is equivalent to
// an empty one.
type Config struct {
	Auth     AuthConfig     `toml:"auth"`
	Download DownloadConfig `toml:"download"`
	Retry    RetryConfig    `toml:"retry"`
	Watch    WatchConfig    `toml:"watch"`
	Network  NetworkConfig  `toml:"network"`
	Logging  LoggingConfig  `toml:"logging"`
	SMTP     SMTPConfig     `toml:"smtp"`
}

// AuthConfig identifies the account and where its login state lives.
// Storing the password here is possible but discouraged; the system keyring
// or the interactive prompt keep it off disk.
type AuthConfig struct {
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	CookieDirectory string `toml:"cookie_directory"`
	Domain          string `toml:"domain"`
}

// DownloadConfig controls what is downloaded and how it is laid out on disk.
type DownloadConfig struct {
	Directory           string   `toml:"directory"`
	Album               string   `toml:"album"`
	Sizes               []string `toml:"sizes"`
	LivePhotoSize       string   `toml:"live_photo_size"`
	Threads             int      `toml:"threads"`
	FolderStructure     string   `toml:"folder_structure"`
	SkipVideos          bool     `toml:"skip_videos"`
	SkipLivePhotos      bool     `toml:"skip_live_photos"`
	ForceSize           bool     `toml:"force_size"`
	SetExifDatetime     bool     `toml:"set_exif_datetime"`
	KeepUnicode         bool     `toml:"keep_unicode_in_filenames"`
	DryRun              bool     `toml:"dry_run"`
	AutoDelete          bool     `toml:"auto_delete"`
	DeleteAfterDownload bool     `toml:"delete_after_download"`
}

// RetryConfig bounds how hard a run fights transient provider failures.
type RetryConfig struct {
	MaxRetries  int `toml:"max_retries"`
	WaitSeconds int `toml:"wait_seconds"`
}

// WatchConfig turns a one-shot run into a polling loop. A zero interval
// means run once and exit.
type WatchConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// NetworkConfig controls HTTP client behavior. unverified_https disables
// certificate verification for TLS-intercepting proxies and must stay off
// everywhere else.
type NetworkConfig struct {
	ConnectTimeout  string `toml:"connect_timeout"`
	DataTimeout     string `toml:"data_timeout"`
	UserAgent       string `toml:"user_agent"`
	UnverifiedHTTPS bool   `toml:"unverified_https"`
}

// ConnectTimeoutDuration returns the parsed connect_timeout, falling back
// to the default when the value is unset or unparseable.
func (n NetworkConfig) ConnectTimeoutDuration() time.Duration {
	return durationOr(n.ConnectTimeout, defaultConnectTimeout)
}

// DataTimeoutDuration returns the parsed data_timeout, falling back to the
// default when the value is unset or unparseable.
func (n NetworkConfig) DataTimeoutDuration() time.Duration {
	return durationOr(n.DataTimeout, defaultDataTimeout)
}

func durationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// SMTPConfig configures the two-factor expiry notification sent when an
// unattended run needs a fresh interactive login. With an empty host no
// mail is ever sent. notification_script names a command to run instead of
// (or in addition to) the email.
type SMTPConfig struct {
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	NoTLS                 bool   `toml:"no_tls"`
	NotificationEmail     string `toml:"notification_email"`
	NotificationEmailFrom string `toml:"notification_email_from"`
	NotificationScript    string `toml:"notification_script"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value": --skip-videos=false is different
// from not passing --skip-videos at all.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)

	Username        *string
	Password        *string
	CookieDirectory *string
	Domain          *string

	Directory           *string
	Album               *string
	Sizes               *[]string
	LivePhotoSize       *string
	Threads             *int
	FolderStructure     *string
	SkipVideos          *bool
	SkipLivePhotos      *bool
	ForceSize           *bool
	SetExifDatetime     *bool
	KeepUnicode         *bool
	DryRun              *bool
	AutoDelete          *bool
	DeleteAfterDownload *bool

	WatchIntervalSeconds *int

	UnverifiedHTTPS *bool

	LogLevel *string

	SMTPHost              *string
	SMTPPort              *int
	SMTPUsername          *string
	SMTPPassword          *string
	SMTPNoTLS             *bool
	NotificationEmail     *string
	NotificationEmailFrom *string
	NotificationScript    *string
}

// Settings is the effective configuration after the four-layer override
// chain has been applied. This is the final product consumed by the CLI.
type Settings struct {
	// ClientID carries the CLIENT_ID environment override, or "" when the
	// persisted per-installation id should be used.
	ClientID string

	Auth     AuthConfig
	Download DownloadConfig
	Retry    RetryConfig
	Watch    WatchConfig
	Network  NetworkConfig
	Logging  LoggingConfig
	SMTP     SMTPConfig
}
