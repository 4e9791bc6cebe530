package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their defaults. Tests must either:
//   - Set globals AFTER newRootCmd() returns (direct function tests), or
//   - Use cmd.Flags().Set() / cmd.Execute() so pflag marks them as changed.
//
// Setting a global before newRootCmd() and expecting it to survive is a bug.

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	oldCfg := resolvedCfg
	oldLevel := flagLogLevel

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagLogLevel = oldLevel
	})

	resolvedCfg = nil
	flagLogLevel = ""

	logger := buildLogger()

	// Default level is Info.
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_FlagBeforeResolve(t *testing.T) {
	oldCfg := resolvedCfg
	oldLevel := flagLogLevel

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagLogLevel = oldLevel
	})

	// Commands that skip config resolution still honor --log-level.
	resolvedCfg = nil
	flagLogLevel = "error"

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_ConfigDebug(t *testing.T) {
	oldCfg := resolvedCfg
	oldLevel := flagLogLevel

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagLogLevel = oldLevel
	})

	resolvedCfg = &config.Settings{
		Logging: config.LoggingConfig{LogLevel: "debug"},
	}
	flagLogLevel = ""

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigWarn(t *testing.T) {
	oldCfg := resolvedCfg
	oldLevel := flagLogLevel

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagLogLevel = oldLevel
	})

	// The --log-level flag already flowed through the override chain, so
	// once a config is resolved it alone decides.
	resolvedCfg = &config.Settings{
		Logging: config.LoggingConfig{LogLevel: "warn"},
	}
	flagLogLevel = "debug"

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

// --- Cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"version", "config"}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_ConfigSubcommands(t *testing.T) {
	cmd := newRootCmd()

	configSub, _, err := cmd.Find([]string{"config"})
	require.NoError(t, err)
	require.Equal(t, "config", configSub.Name())

	expectedSubs := []string{"show", "validate", "path"}
	for _, name := range expectedSubs {
		found := false

		for _, sub := range configSub.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected config subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	expectedFlags := []string{"config", "log-level", "quiet"}
	for _, name := range expectedFlags {
		flag := cmd.PersistentFlags().Lookup(name)
		assert.NotNil(t, flag, "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_DownloadFlags(t *testing.T) {
	cmd := newRootCmd()

	expectedFlags := []string{
		"username", "password", "cookie-directory", "domain",
		"directory", "album", "size", "live-photo-size",
		"recent", "until-found", "skip-videos", "only-photos",
		"skip-live-photos", "force-size", "auto-delete", "delete-after-download",
		"dry-run", "only-print-filenames", "set-exif-datetime",
		"keep-unicode-in-filenames", "folder-structure", "threads-num",
		"watch-with-interval", "no-progress-bar", "list-albums",
		"smtp-host", "smtp-port", "smtp-username", "smtp-password",
		"smtp-no-tls", "notification-email", "notification-script",
		"store-in-keyring", "delete-from-keyring",
	}
	for _, name := range expectedFlags {
		flag := cmd.Flags().Lookup(name)
		assert.NotNil(t, flag, "expected flag %q not found", name)
	}
}

func TestNewRootCmd_UncappedDefaults(t *testing.T) {
	_ = newRootCmd()

	// -1 means "no cap" for the listing bounds.
	assert.Equal(t, int64(-1), flagRecent)
	assert.Equal(t, int64(-1), flagUntilFound)
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	// Cobra enforces mutual exclusivity during Execute(), before the
	// pre-run hooks, so no config resolution happens for these.
	pairs := [][]string{
		{"--auto-delete", "--delete-after-download"},
		{"--store-in-keyring", "--delete-from-keyring"},
	}

	for _, flags := range pairs {
		t.Run(flags[0]+"_"+flags[1], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(flags)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
		})
	}
}

func TestSkipConfigCommands_UsesCommandPath(t *testing.T) {
	cmd := newRootCmd()

	// Verify that all skip commands use full command paths, not bare names.
	allSkip := [][]string{
		{"version"},
		{"config", "validate"},
		{"config", "path"},
	}

	for _, args := range allSkip {
		sub, _, err := cmd.Find(args)
		require.NoError(t, err)

		path := sub.CommandPath()
		assert.True(t, skipConfigCommands[path],
			"CommandPath %q should be in skipConfigCommands", path)
	}

	// config show renders the resolved settings, so it must NOT skip.
	sub, _, err := cmd.Find([]string{"config", "show"})
	require.NoError(t, err)
	assert.False(t, skipConfigCommands[sub.CommandPath()])

	// Bare names must not be in the skip map.
	assert.False(t, skipConfigCommands["validate"], "bare 'validate' should not be in skipConfigCommands")
	assert.False(t, skipConfigCommands["path"], "bare 'path' should not be in skipConfigCommands")
}

func TestNewRootCmd_SkipCommandsPassPreRun(t *testing.T) {
	cmd := newRootCmd()

	// These commands must work even when the config file is broken, so
	// PersistentPreRunE has to be a no-op for them.
	skipCmds := [][]string{
		{"version"},
		{"config", "validate"},
		{"config", "path"},
	}

	for _, args := range skipCmds {
		t.Run(args[len(args)-1], func(t *testing.T) {
			sub, _, err := cmd.Find(args)
			require.NoError(t, err)

			err = cmd.PersistentPreRunE(sub, nil)
			assert.NoError(t, err)
		})
	}
}

// --- version command ---

func TestVersionCommand_Output(t *testing.T) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Equal(t, "icloudpd dev\n", out.String())
}

// --- loadConfig tests ---

func TestLoadConfig_ValidTOML(t *testing.T) {
	oldCfg := resolvedCfg
	oldConfigPath := flagConfigPath

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagConfigPath = oldConfigPath
	})

	t.Setenv("ICLOUDPD_CONFIG", "")

	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	tomlContent := `[auth]
username = "alice@example.com"

[download]
directory = "` + tmpDir + `/Photos"
threads = 3
skip_videos = true
`
	err := os.WriteFile(cfgFile, []byte(tomlContent), 0o600)
	require.NoError(t, err)

	cmd := newRootCmd()
	flagConfigPath = cfgFile

	err = loadConfig(cmd)
	require.NoError(t, err)
	require.NotNil(t, resolvedCfg)

	assert.Equal(t, "alice@example.com", resolvedCfg.Auth.Username)
	assert.Equal(t, tmpDir+"/Photos", resolvedCfg.Download.Directory)
	assert.Equal(t, 3, resolvedCfg.Download.Threads)
	assert.True(t, resolvedCfg.Download.SkipVideos)
}

func TestLoadConfig_MissingFileDefaults(t *testing.T) {
	oldCfg := resolvedCfg
	oldConfigPath := flagConfigPath

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagConfigPath = oldConfigPath
	})

	t.Setenv("ICLOUDPD_CONFIG", "")

	cmd := newRootCmd()
	flagConfigPath = filepath.Join(t.TempDir(), "nonexistent.toml")

	err := loadConfig(cmd)
	require.NoError(t, err)
	require.NotNil(t, resolvedCfg)

	assert.Equal(t, "All Photos", resolvedCfg.Download.Album)
	assert.Equal(t, []string{"original"}, resolvedCfg.Download.Sizes)
	assert.Equal(t, "{:%Y/%m/%d}", resolvedCfg.Download.FolderStructure)
	assert.Equal(t, 5, resolvedCfg.Retry.MaxRetries)
}

func TestLoadConfig_ChangedFlagsBecomeOverrides(t *testing.T) {
	oldCfg := resolvedCfg
	oldConfigPath := flagConfigPath

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagConfigPath = oldConfigPath
	})

	t.Setenv("ICLOUDPD_CONFIG", "")

	cmd := newRootCmd()
	flagConfigPath = filepath.Join(t.TempDir(), "nonexistent.toml")

	// pflag marks a flag as changed on Set(), same as CLI parsing would.
	require.NoError(t, cmd.Flags().Set("username", "cli@example.com"))
	require.NoError(t, cmd.Flags().Set("threads-num", "9"))
	require.NoError(t, cmd.Flags().Set("dry-run", "true"))
	require.NoError(t, cmd.Flags().Set("size", "original,medium"))

	err := loadConfig(cmd)
	require.NoError(t, err)
	require.NotNil(t, resolvedCfg)

	assert.Equal(t, "cli@example.com", resolvedCfg.Auth.Username)
	assert.Equal(t, 9, resolvedCfg.Download.Threads)
	assert.True(t, resolvedCfg.Download.DryRun)
	assert.Equal(t, []string{"original", "medium"}, resolvedCfg.Download.Sizes)
}

func TestLoadConfig_UnchangedFlagsLeaveDefaults(t *testing.T) {
	oldCfg := resolvedCfg
	oldConfigPath := flagConfigPath

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagConfigPath = oldConfigPath
	})

	t.Setenv("ICLOUDPD_CONFIG", "")

	cmd := newRootCmd()
	flagConfigPath = filepath.Join(t.TempDir(), "nonexistent.toml")

	err := loadConfig(cmd)
	require.NoError(t, err)
	require.NotNil(t, resolvedCfg)

	// Bool flags default to false but must not override the config layer
	// unless the user actually passed them.
	assert.False(t, resolvedCfg.Download.SkipVideos)
	assert.Equal(t, config.DefaultThreads(), resolvedCfg.Download.Threads)
}

func TestLoadConfig_OnlyPhotosSetsSkipVideos(t *testing.T) {
	oldCfg := resolvedCfg
	oldConfigPath := flagConfigPath

	t.Cleanup(func() {
		resolvedCfg = oldCfg
		flagConfigPath = oldConfigPath
	})

	t.Setenv("ICLOUDPD_CONFIG", "")

	cmd := newRootCmd()
	flagConfigPath = filepath.Join(t.TempDir(), "nonexistent.toml")

	require.NoError(t, cmd.Flags().Set("only-photos", "true"))

	err := loadConfig(cmd)
	require.NoError(t, err)
	require.NotNil(t, resolvedCfg)

	assert.True(t, resolvedCfg.Download.SkipVideos)
}
