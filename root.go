package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagLogLevel   string
	flagQuiet      bool
)

// Account and transport flags.
var (
	flagUsername        string
	flagPassword        string
	flagCookieDirectory string
	flagDomain          string
	flagUnverifiedHTTPS bool
)

// Download flags. Most of them shadow a config file key; --recent,
// --until-found, --only-print-filenames, --list-albums, --no-progress-bar
// and the keyring modes are per-run controls with no file counterpart.
var (
	flagDirectory       string
	flagAlbum           string
	flagSizes           []string
	flagLivePhotoSize   string
	flagRecent          int64
	flagUntilFound      int64
	flagSkipVideos      bool
	flagOnlyPhotos      bool
	flagSkipLivePhotos  bool
	flagForceSize       bool
	flagAutoDelete      bool
	flagDeleteAfter     bool
	flagDryRun          bool
	flagOnlyPrint       bool
	flagSetExif         bool
	flagKeepUnicode     bool
	flagFolderStructure string
	flagThreads         int
	flagWatchInterval   int
	flagNoProgressBar   bool
	flagListAlbums      bool
)

// Notification flags.
var (
	flagSMTPHost        string
	flagSMTPPort        int
	flagSMTPUsername    string
	flagSMTPPassword    string
	flagSMTPNoTLS       bool
	flagNotifyEmail     string
	flagNotifyEmailFrom string
	flagNotifyScript    string
)

// Keyring maintenance flags.
var (
	flagStoreInKeyring    bool
	flagDeleteFromKeyring bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Settings

// skipConfigCommands lists commands that do not go through the four-layer
// config resolution. version needs no configuration; config validate and
// config path must keep working when the config file itself is broken.
// Uses CommandPath() for explicit matching.
var skipConfigCommands = map[string]bool{
	"icloudpd version":         true,
	"icloudpd config validate": true,
	"icloudpd config path":     true,
}

// newRootCmd builds and returns the fully-assembled root command. The root
// command itself runs the download; subcommands cover introspection.
// Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "icloudpd",
		Short:   "iCloud Photos downloader",
		Long:    "A command-line tool to download all your iCloud photos and videos.",
		Version: version,
		Args:    cobra.NoArgs,
		// Silence Cobra's default error/usage printing; exitOnError handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
		RunE: runRoot,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress status output (log lines are still emitted)")

	f := cmd.Flags()

	f.StringVarP(&flagUsername, "username", "u", "", "iCloud username (email address)")
	f.StringVarP(&flagPassword, "password", "p", "", "iCloud password (default: use the system keyring or prompt)")
	f.StringVar(&flagCookieDirectory, "cookie-directory", "", "directory to store session cookies (default: the user data directory)")
	f.StringVar(&flagDomain, "domain", "", "root domain for iCloud requests: com or cn (for mainland China)")
	f.BoolVar(&flagUnverifiedHTTPS, "unverified-https", false, "skip TLS certificate verification (for intercepting proxies)")

	f.StringVarP(&flagDirectory, "directory", "d", "", "local directory to download into")
	f.StringVar(&flagAlbum, "album", "", "album to download (default: All Photos)")
	f.StringSliceVar(&flagSizes, "size", nil, "image size to download: original, medium, thumb, adjusted or alternative (repeatable)")
	f.StringVar(&flagLivePhotoSize, "live-photo-size", "", "live photo video size to download: original or medium")
	f.Int64Var(&flagRecent, "recent", -1, "number of recent photos to download (default: download all photos)")
	f.Int64Var(&flagUntilFound, "until-found", -1, "download the newest photos until this many consecutive previously downloaded photos are found")
	f.BoolVar(&flagSkipVideos, "skip-videos", false, "don't download any videos (default: download all photos and videos)")
	f.BoolVar(&flagOnlyPhotos, "only-photos", false, "download still photos only (same filter as --skip-videos)")
	f.BoolVar(&flagSkipLivePhotos, "skip-live-photos", false, "don't download any live photos (default: download live photos)")
	f.BoolVar(&flagForceSize, "force-size", false, "only download the requested size (default: fall back to original if the size is unavailable)")
	f.BoolVar(&flagAutoDelete, "auto-delete", false, "delete local files found in the Recently Deleted album (restoring a photo in iCloud downloads it again)")
	f.BoolVar(&flagDeleteAfter, "delete-after-download", false, "delete each photo or video in iCloud after downloading it (deleted items land in Recently Deleted)")
	f.BoolVar(&flagDryRun, "dry-run", false, "do not modify the local system or iCloud")
	f.BoolVar(&flagOnlyPrint, "only-print-filenames", false, "only print the target paths of files that would be downloaded")
	f.BoolVar(&flagSetExif, "set-exif-datetime", false, "write the DateTimeOriginal EXIF tag from the capture date if missing")
	f.BoolVar(&flagKeepUnicode, "keep-unicode-in-filenames", false, "keep unicode characters in file names instead of reducing to ASCII")
	f.StringVar(&flagFolderStructure, "folder-structure", "", "dated folder layout (default: {:%Y/%m/%d}), or 'none' for a flat directory")
	f.IntVar(&flagThreads, "threads-num", 0, "number of parallel download threads")
	f.IntVar(&flagWatchInterval, "watch-with-interval", 0, "run downloads in an endless cycle, waiting this many seconds between runs")
	f.BoolVar(&flagNoProgressBar, "no-progress-bar", false, "disable the in-place progress counter (disabled automatically without a tty)")
	f.BoolVar(&flagListAlbums, "list-albums", false, "list the available albums and exit")

	f.StringVar(&flagSMTPHost, "smtp-host", "", "SMTP server host for two-factor expiry notifications")
	f.IntVar(&flagSMTPPort, "smtp-port", 0, "SMTP server port")
	f.StringVar(&flagSMTPUsername, "smtp-username", "", "SMTP username for two-factor expiry notifications")
	f.StringVar(&flagSMTPPassword, "smtp-password", "", "SMTP password for two-factor expiry notifications")
	f.BoolVar(&flagSMTPNoTLS, "smtp-no-tls", false, "disable STARTTLS for SMTP (TLS is required for Gmail)")
	f.StringVar(&flagNotifyEmail, "notification-email", "", "address to notify when two-factor authentication expires (default: SMTP username)")
	f.StringVar(&flagNotifyEmailFrom, "notification-email-from", "", "sender address for expiry notifications (default: SMTP username)")
	f.StringVar(&flagNotifyScript, "notification-script", "", "script to run when two-factor authentication expires")

	f.BoolVar(&flagStoreInKeyring, "store-in-keyring", false, "store the iCloud password in the system keyring and exit")
	f.BoolVar(&flagDeleteFromKeyring, "delete-from-keyring", false, "remove the iCloud password from the system keyring and exit")

	cmd.MarkFlagsMutuallyExclusive("auto-delete", "delete-after-download")
	cmd.MarkFlagsMutuallyExclusive("store-in-keyring", "delete-from-keyring")

	// Register subcommands.
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the icloudpd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "icloudpd %s\n", version)
		},
	}
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg for use by the run.
// Only flags the user actually set become overrides; pointer fields keep
// "explicitly false" distinct from "not given".
func loadConfig(cmd *cobra.Command) error {
	flags := cmd.Flags()

	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	setString(flags, "username", &cli.Username, &flagUsername)
	setString(flags, "password", &cli.Password, &flagPassword)
	setString(flags, "cookie-directory", &cli.CookieDirectory, &flagCookieDirectory)
	setString(flags, "domain", &cli.Domain, &flagDomain)

	setString(flags, "directory", &cli.Directory, &flagDirectory)
	setString(flags, "album", &cli.Album, &flagAlbum)
	setString(flags, "live-photo-size", &cli.LivePhotoSize, &flagLivePhotoSize)
	setString(flags, "folder-structure", &cli.FolderStructure, &flagFolderStructure)
	setInt(flags, "threads-num", &cli.Threads, &flagThreads)
	setInt(flags, "watch-with-interval", &cli.WatchIntervalSeconds, &flagWatchInterval)

	if flags.Changed("size") {
		cli.Sizes = &flagSizes
	}

	setBool(flags, "skip-videos", &cli.SkipVideos, &flagSkipVideos)
	setBool(flags, "skip-live-photos", &cli.SkipLivePhotos, &flagSkipLivePhotos)
	setBool(flags, "force-size", &cli.ForceSize, &flagForceSize)
	setBool(flags, "set-exif-datetime", &cli.SetExifDatetime, &flagSetExif)
	setBool(flags, "keep-unicode-in-filenames", &cli.KeepUnicode, &flagKeepUnicode)
	setBool(flags, "dry-run", &cli.DryRun, &flagDryRun)
	setBool(flags, "auto-delete", &cli.AutoDelete, &flagAutoDelete)
	setBool(flags, "delete-after-download", &cli.DeleteAfterDownload, &flagDeleteAfter)
	setBool(flags, "unverified-https", &cli.UnverifiedHTTPS, &flagUnverifiedHTTPS)

	// --only-photos is the positive spelling of --skip-videos.
	if flags.Changed("only-photos") && flagOnlyPhotos {
		cli.SkipVideos = &flagOnlyPhotos
	}

	setString(flags, "log-level", &cli.LogLevel, &flagLogLevel)

	setString(flags, "smtp-host", &cli.SMTPHost, &flagSMTPHost)
	setInt(flags, "smtp-port", &cli.SMTPPort, &flagSMTPPort)
	setString(flags, "smtp-username", &cli.SMTPUsername, &flagSMTPUsername)
	setString(flags, "smtp-password", &cli.SMTPPassword, &flagSMTPPassword)
	setBool(flags, "smtp-no-tls", &cli.SMTPNoTLS, &flagSMTPNoTLS)
	setString(flags, "notification-email", &cli.NotificationEmail, &flagNotifyEmail)
	setString(flags, "notification-email-from", &cli.NotificationEmailFrom, &flagNotifyEmailFrom)
	setString(flags, "notification-script", &cli.NotificationScript, &flagNotifyScript)

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

func setString(flags *pflag.FlagSet, name string, dst **string, src *string) {
	if flags.Changed(name) {
		*dst = src
	}
}

func setBool(flags *pflag.FlagSet, name string, dst **bool, src *bool) {
	if flags.Changed(name) {
		*dst = src
	}
}

func setInt(flags *pflag.FlagSet, name string, dst **int, src *int) {
	if flags.Changed(name) {
		*dst = src
	}
}

// buildLogger creates an slog.Logger configured by the resolved config.
// The --log-level flag already flowed through the override chain; before
// config resolution (or for commands that skip it) the flag alone decides.
func buildLogger() *slog.Logger {
	name := flagLogLevel
	if resolvedCfg != nil {
		name = resolvedCfg.Logging.LogLevel
	}

	level := slog.LevelInfo

	switch name {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
