package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied. Passwords are never
// printed, only whether one is set.
func RenderEffective(s *Settings, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	renderAuthSection(ew, &s.Auth)
	renderDownloadSection(ew, &s.Download)
	renderRetrySection(ew, &s.Retry)
	renderWatchSection(ew, &s.Watch)
	renderNetworkSection(ew, &s.Network)
	renderLoggingSection(ew, &s.Logging)
	renderSMTPSection(ew, &s.SMTP)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAuthSection(ew *errWriter, a *AuthConfig) {
	ew.printf("[auth]\n")
	ew.printf("  username         = %q\n", a.Username)
	ew.printf("  password         = %s\n", setOrUnset(a.Password))
	ew.printf("  cookie_directory = %q\n", a.CookieDirectory)
	ew.printf("  domain           = %q\n", a.Domain)
	ew.printf("\n")
}

func renderDownloadSection(ew *errWriter, d *DownloadConfig) {
	ew.printf("[download]\n")
	ew.printf("  directory                 = %q\n", d.Directory)
	ew.printf("  album                     = %q\n", d.Album)
	ew.printf("  sizes                     = [%s]\n", joinQuoted(d.Sizes))
	ew.printf("  live_photo_size           = %q\n", d.LivePhotoSize)
	ew.printf("  threads                   = %d\n", d.Threads)
	ew.printf("  folder_structure          = %q\n", d.FolderStructure)
	ew.printf("  skip_videos               = %t\n", d.SkipVideos)
	ew.printf("  skip_live_photos          = %t\n", d.SkipLivePhotos)
	ew.printf("  force_size                = %t\n", d.ForceSize)
	ew.printf("  set_exif_datetime         = %t\n", d.SetExifDatetime)
	ew.printf("  keep_unicode_in_filenames = %t\n", d.KeepUnicode)
	ew.printf("  dry_run                   = %t\n", d.DryRun)
	ew.printf("  auto_delete               = %t\n", d.AutoDelete)
	ew.printf("  delete_after_download     = %t\n", d.DeleteAfterDownload)
	ew.printf("\n")
}

func renderRetrySection(ew *errWriter, r *RetryConfig) {
	ew.printf("[retry]\n")
	ew.printf("  max_retries  = %d\n", r.MaxRetries)
	ew.printf("  wait_seconds = %d\n", r.WaitSeconds)
	ew.printf("\n")
}

func renderWatchSection(ew *errWriter, w *WatchConfig) {
	ew.printf("[watch]\n")
	ew.printf("  interval_seconds = %d\n", w.IntervalSeconds)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout  = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout     = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent       = %q\n", n.UserAgent)
	}

	ew.printf("  unverified_https = %t\n", n.UnverifiedHTTPS)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level = %q\n", l.LogLevel)
	ew.printf("\n")
}

func renderSMTPSection(ew *errWriter, s *SMTPConfig) {
	ew.printf("[smtp]\n")
	ew.printf("  host                    = %q\n", s.Host)
	ew.printf("  port                    = %d\n", s.Port)
	ew.printf("  username                = %q\n", s.Username)
	ew.printf("  password                = %s\n", setOrUnset(s.Password))
	ew.printf("  no_tls                  = %t\n", s.NoTLS)
	ew.printf("  notification_email      = %q\n", s.NotificationEmail)
	ew.printf("  notification_email_from = %q\n", s.NotificationEmailFrom)

	if s.NotificationScript != "" {
		ew.printf("  notification_script     = %q\n", s.NotificationScript)
	}
}

// setOrUnset renders a secret's presence without its value.
func setOrUnset(secret string) string {
	if secret == "" {
		return "(unset)"
	}

	return "(set)"
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
