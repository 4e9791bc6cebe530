package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Validation range constants.
const (
	minThreads        = 1
	maxThreads        = 128
	minMaxRetries     = 1
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 1 * time.Second
	minSMTPPort       = 1
	maxSMTPPort       = 65535
)

// validSizes are the version tags the provider serves for an asset.
var validSizes = map[string]bool{
	"original":    true,
	"medium":      true,
	"thumb":       true,
	"adjusted":    true,
	"alternative": true,
}

// validLivePhotoSizes are the motion-companion qualities.
var validLivePhotoSizes = map[string]bool{
	"original": true,
	"medium":   true,
}

var validDomains = map[string]bool{
	"com": true,
	"cn":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateDownload(&cfg.Download)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateSMTP(&cfg.SMTP)...)

	return errors.Join(errs...)
}

// ValidateSettings re-checks the assembled settings after the four-layer
// override chain has been applied, so a bad CLI flag value is caught with
// the same message as a bad file value.
func ValidateSettings(s *Settings) error {
	var errs []error

	errs = append(errs, validateAuth(&s.Auth)...)
	errs = append(errs, validateDownload(&s.Download)...)
	errs = append(errs, validateRetry(&s.Retry)...)
	errs = append(errs, validateWatch(&s.Watch)...)
	errs = append(errs, validateNetwork(&s.Network)...)
	errs = append(errs, validateLogging(&s.Logging)...)
	errs = append(errs, validateSMTP(&s.SMTP)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	if !validDomains[a.Domain] {
		return []error{fmt.Errorf("domain: must be com or cn, got %q", a.Domain)}
	}

	return nil
}

func validateDownload(d *DownloadConfig) []error {
	var errs []error

	if len(d.Sizes) == 0 {
		errs = append(errs, fmt.Errorf("sizes: must name at least one of %s", choiceList(validSizes)))
	}

	for _, size := range d.Sizes {
		if !validSizes[size] {
			errs = append(errs, fmt.Errorf("sizes: must be one of %s; got %q", choiceList(validSizes), size))
		}
	}

	if !validLivePhotoSizes[d.LivePhotoSize] {
		errs = append(errs, fmt.Errorf("live_photo_size: must be one of %s; got %q",
			choiceList(validLivePhotoSizes), d.LivePhotoSize))
	}

	if d.Threads < minThreads || d.Threads > maxThreads {
		errs = append(errs, fmt.Errorf("threads: must be between %d and %d, got %d",
			minThreads, maxThreads, d.Threads))
	}

	if d.Album == "" {
		errs = append(errs, errors.New("album: must not be empty"))
	}

	if d.FolderStructure == "" {
		errs = append(errs, errors.New("folder_structure: must not be empty (use \"none\" for a flat layout)"))
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxRetries < minMaxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be >= %d, got %d", minMaxRetries, r.MaxRetries))
	}

	if r.WaitSeconds < 0 {
		errs = append(errs, fmt.Errorf("wait_seconds: must be >= 0, got %d", r.WaitSeconds))
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	if w.IntervalSeconds < 0 {
		return []error{fmt.Errorf("interval_seconds: must be >= 0, got %d", w.IntervalSeconds)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDuration("connect_timeout", n.ConnectTimeout, minConnectTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("data_timeout", n.DataTimeout, minDataTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	if !validLogLevels[l.LogLevel] {
		return []error{fmt.Errorf("log_level: must be one of %s; got %q",
			choiceList(validLogLevels), l.LogLevel)}
	}

	return nil
}

func validateSMTP(s *SMTPConfig) []error {
	var errs []error

	if s.Port < minSMTPPort || s.Port > maxSMTPPort {
		errs = append(errs, fmt.Errorf("port: must be between %d and %d, got %d",
			minSMTPPort, maxSMTPPort, s.Port))
	}

	if (s.Username != "" || s.NotificationEmail != "") && s.Host == "" {
		errs = append(errs, errors.New("host: must not be empty when notifications are configured"))
	}

	return errs
}

// validateDuration checks that a duration string parses and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

// choiceList renders a valid-value set as "a, b, c" in sorted order for
// error messages.
func choiceList(valid map[string]bool) string {
	choices := make([]string, 0, len(valid))
	for c := range valid {
		choices = append(choices, c)
	}

	sort.Strings(choices)

	return strings.Join(choices, ", ")
}
