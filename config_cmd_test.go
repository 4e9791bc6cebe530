package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/config"
)

func TestConfigPathCommand_Default(t *testing.T) {
	t.Setenv("ICLOUDPD_CONFIG", "")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "path"})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultConfigPath()+"\n", out.String())
}

func TestConfigPathCommand_FlagOverride(t *testing.T) {
	t.Setenv("ICLOUDPD_CONFIG", "")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "path", "--config", "/tmp/other.toml"})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.toml\n", out.String())
}

func TestConfigPathCommand_EnvOverride(t *testing.T) {
	t.Setenv("ICLOUDPD_CONFIG", "/env/icloudpd.toml")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "path"})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Equal(t, "/env/icloudpd.toml\n", out.String())
}

func TestConfigValidateCommand_MissingFile(t *testing.T) {
	t.Setenv("ICLOUDPD_CONFIG", "")

	missing := filepath.Join(t.TempDir(), "nonexistent.toml")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "validate", "--config", missing})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), "does not exist; defaults apply")
}

func TestConfigValidateCommand_ValidFile(t *testing.T) {
	t.Setenv("ICLOUDPD_CONFIG", "")

	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("[download]\nthreads = 4\n"), 0o600))

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "validate", "--config", cfgFile})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), "is valid")
}

func TestConfigValidateCommand_BadValue(t *testing.T) {
	t.Setenv("ICLOUDPD_CONFIG", "")

	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("[download]\nthreads = 900\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "validate", "--config", cfgFile})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads")
}

func TestConfigValidateCommand_UnknownKey(t *testing.T) {
	t.Setenv("ICLOUDPD_CONFIG", "")

	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("[download]\nthrads = 4\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "validate", "--config", cfgFile})

	err := cmd.Execute()
	require.Error(t, err)
}

func TestConfigShowCommand_RendersResolvedSettings(t *testing.T) {
	oldCfg := resolvedCfg

	t.Cleanup(func() { resolvedCfg = oldCfg })

	t.Setenv("ICLOUDPD_CONFIG", "")

	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("[auth]\nusername = \"alice@example.com\"\n"), 0o600))

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "show", "--config", cfgFile})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, out.String(), "alice@example.com")
}
