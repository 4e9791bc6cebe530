package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions for near misses, so a typo cannot silently change behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports the zero-config
// first-run experience: the CLI works with flags alone.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// EffectiveConfigPath returns the config file the chain reads:
// ICLOUDPD_CONFIG overrides the default location, --config overrides both.
func EffectiveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	return cfgPath
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the fully resolved and validated settings ready for use.
// The precedence order ensures CLI flags always win, matching user
// expectations for one-off overrides without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Settings, error) {
	cfg, err := LoadOrDefault(EffectiveConfigPath(env, cli))
	if err != nil {
		return nil, err
	}

	settings := &Settings{
		ClientID: env.ClientID,
		Auth:     cfg.Auth,
		Download: cfg.Download,
		Retry:    cfg.Retry,
		Watch:    cfg.Watch,
		Network:  cfg.Network,
		Logging:  cfg.Logging,
		SMTP:     cfg.SMTP,
	}

	applyCLIOverrides(settings, &cli)

	if settings.Auth.CookieDirectory == "" {
		settings.Auth.CookieDirectory = DefaultCookieDir()
	}

	settings.Auth.CookieDirectory = expandTilde(settings.Auth.CookieDirectory)
	settings.Download.Directory = expandTilde(settings.Download.Directory)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return settings, nil
}

// applyCLIOverrides copies every flag the user set onto the settings.
// Pointer fields: nil = not specified.
func applyCLIOverrides(s *Settings, cli *CLIOverrides) {
	applyAuthOverrides(s, cli)
	applyDownloadOverrides(s, cli)
	applyModeOverrides(s, cli)
	applySMTPOverrides(s, cli)
}

func applyAuthOverrides(s *Settings, cli *CLIOverrides) {
	if cli.Username != nil {
		s.Auth.Username = *cli.Username
	}

	if cli.Password != nil {
		s.Auth.Password = *cli.Password
	}

	if cli.CookieDirectory != nil {
		s.Auth.CookieDirectory = *cli.CookieDirectory
	}

	if cli.Domain != nil {
		s.Auth.Domain = *cli.Domain
	}
}

func applyDownloadOverrides(s *Settings, cli *CLIOverrides) {
	if cli.Directory != nil {
		s.Download.Directory = *cli.Directory
	}

	if cli.Album != nil {
		s.Download.Album = *cli.Album
	}

	if cli.Sizes != nil {
		s.Download.Sizes = *cli.Sizes
	}

	if cli.LivePhotoSize != nil {
		s.Download.LivePhotoSize = *cli.LivePhotoSize
	}

	if cli.Threads != nil {
		s.Download.Threads = *cli.Threads
	}

	if cli.FolderStructure != nil {
		s.Download.FolderStructure = *cli.FolderStructure
	}
}

func applyModeOverrides(s *Settings, cli *CLIOverrides) {
	boolOverrides := []struct {
		flag *bool
		dst  *bool
	}{
		{cli.SkipVideos, &s.Download.SkipVideos},
		{cli.SkipLivePhotos, &s.Download.SkipLivePhotos},
		{cli.ForceSize, &s.Download.ForceSize},
		{cli.SetExifDatetime, &s.Download.SetExifDatetime},
		{cli.KeepUnicode, &s.Download.KeepUnicode},
		{cli.DryRun, &s.Download.DryRun},
		{cli.AutoDelete, &s.Download.AutoDelete},
		{cli.DeleteAfterDownload, &s.Download.DeleteAfterDownload},
		{cli.UnverifiedHTTPS, &s.Network.UnverifiedHTTPS},
	}

	for _, o := range boolOverrides {
		if o.flag != nil {
			*o.dst = *o.flag
		}
	}

	if cli.WatchIntervalSeconds != nil {
		s.Watch.IntervalSeconds = *cli.WatchIntervalSeconds
	}

	if cli.LogLevel != nil {
		s.Logging.LogLevel = *cli.LogLevel
	}
}

func applySMTPOverrides(s *Settings, cli *CLIOverrides) {
	stringOverrides := []struct {
		flag *string
		dst  *string
	}{
		{cli.SMTPHost, &s.SMTP.Host},
		{cli.SMTPUsername, &s.SMTP.Username},
		{cli.SMTPPassword, &s.SMTP.Password},
		{cli.NotificationEmail, &s.SMTP.NotificationEmail},
		{cli.NotificationEmailFrom, &s.SMTP.NotificationEmailFrom},
		{cli.NotificationScript, &s.SMTP.NotificationScript},
	}

	for _, o := range stringOverrides {
		if o.flag != nil {
			*o.dst = *o.flag
		}
	}

	if cli.SMTPPort != nil {
		s.SMTP.Port = *cli.SMTPPort
	}

	if cli.SMTPNoTLS != nil {
		s.SMTP.NoTLS = *cli.SMTPNoTLS
	}
}

// expandTilde replaces a leading "~/" with the user's home directory.
// If os.UserHomeDir() fails, the path is returned unexpanded; the
// downstream mkdir or open reports the real problem.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
