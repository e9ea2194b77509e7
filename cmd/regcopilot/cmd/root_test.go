package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes the root command with args and returns everything it
// wrote. Package-level flag state is restored when the test finishes.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configPath = ""
		debugMode = false
		profileCPU = ""
		profileMem = ""
		profileTrace = ""
	})
}

// isolateConfig keeps the host environment out of config resolution.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("REGCOPILOT_CONFIG", "")
	t.Setenv("PORT", "")
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given/When: executing with --help

	out, err := runCommand(t, "--help")

	// Then: usage lists the subcommands
	require.NoError(t, err)
	assert.Contains(t, out, "regcopilot")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "preprocess")
	assert.Contains(t, out, "config")
	assert.Contains(t, out, "version")
}

func TestRootCmd_VersionFlag(t *testing.T) {
	// Given/When: executing with --version

	out, err := runCommand(t, "--version")

	// Then: the version template is used
	require.NoError(t, err)
	assert.Contains(t, out, "regcopilot version dev")
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	// Given/When: executing an unknown subcommand

	_, err := runCommand(t, "definitely-not-a-command")

	// Then: cobra rejects it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRootCmd_ProfileFlags_WriteProfiles(t *testing.T) {
	// Given: profile output paths in a temp dir
	dir := t.TempDir()
	cpuPath := filepath.Join(dir, "cpu.prof")
	memPath := filepath.Join(dir, "mem.prof")

	// When: running a cheap command with profiling enabled
	_, err := runCommand(t, "version", "--profile-cpu", cpuPath, "--profile-mem", memPath)
	require.NoError(t, err)

	// Then: both profiles exist and are non-empty
	for _, path := range []string{cpuPath, memPath} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Greater(t, info.Size(), int64(0), path)
	}
}

func TestLoadConfig_FlagPathWins(t *testing.T) {
	// Given: a config file selected by flag and a different one in the env
	isolateConfig(t)
	resetFlags(t)
	dir := t.TempDir()

	flagPath := filepath.Join(dir, "flag.yaml")
	require.NoError(t, os.WriteFile(flagPath, []byte("server:\n  port: 9100\n"), 0o644))
	envPath := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte("server:\n  port: 9200\n"), 0o644))
	t.Setenv("REGCOPILOT_CONFIG", envPath)
	configPath = flagPath

	// When: resolving configuration
	cfg, err := loadConfig()
	require.NoError(t, err)

	// Then: the flag path was loaded
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadConfig_EnvPath(t *testing.T) {
	// Given: REGCOPILOT_CONFIG and no --config flag
	isolateConfig(t)
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9200\n"), 0o644))
	t.Setenv("REGCOPILOT_CONFIG", path)

	// When: resolving configuration
	cfg, err := loadConfig()
	require.NoError(t, err)

	// Then: the env-selected file was loaded
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoadConfig_DebugForcesLevel(t *testing.T) {
	// Given: --debug with an info-level config
	isolateConfig(t)
	resetFlags(t)
	debugMode = true

	// When: resolving configuration
	cfg, err := loadConfig()
	require.NoError(t, err)

	// Then: the log level is debug
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_BadFileFails(t *testing.T) {
	// Given: a config path that does not exist
	isolateConfig(t)
	resetFlags(t)
	configPath = filepath.Join(t.TempDir(), "missing.yaml")

	// When/Then: resolution fails
	_, err := loadConfig()
	require.Error(t, err)
}
