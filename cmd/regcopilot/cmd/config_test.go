package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into a temp working directory.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldDir) })
	return dir
}

func TestConfigInit_WritesTemplate(t *testing.T) {
	// Given: an empty working directory
	isolateConfig(t)
	dir := chdirTemp(t)

	// When: running config init
	out, err := runCommand(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")

	// Then: the template lands at .regcopilot.yaml
	data, err := os.ReadFile(filepath.Join(dir, ".regcopilot.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Regcopilot project configuration")
	assert.Contains(t, string(data), "# retrieval:")
}

func TestConfigInit_PreservesExistingFile(t *testing.T) {
	// Given: a customized config already in place
	isolateConfig(t)
	dir := chdirTemp(t)
	path := filepath.Join(dir, ".regcopilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o644))

	// When: running config init again
	out, err := runCommand(t, "config", "init")
	require.NoError(t, err)

	// Then: the file is untouched
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "server:\n  port: 9100\n", string(data))
}

func TestConfigInit_ForceOverwrites(t *testing.T) {
	// Given: a customized config already in place
	isolateConfig(t)
	dir := chdirTemp(t)
	path := filepath.Join(dir, ".regcopilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o644))

	// When: running config init --force
	_, err := runCommand(t, "config", "init", "--force")
	require.NoError(t, err)

	// Then: the template replaced the file
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Regcopilot project configuration")
}

func TestConfigShow_PrintsEffectiveYAML(t *testing.T) {
	// Given: a config file with a non-default chunk size
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "regcopilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunking:\n  chunk_size: 1234\n"), 0o644))

	// When: showing the effective config
	out, err := runCommand(t, "config", "show", "--config", path)
	require.NoError(t, err)

	// Then: the override and a default are both visible
	assert.Contains(t, out, "chunk_size: 1234")
	assert.Contains(t, out, "chat_model: gpt-4o-mini")
}

func TestConfigShow_JSON(t *testing.T) {
	// Given: the default config
	isolateConfig(t)

	// When: showing as JSON
	out, err := runCommand(t, "config", "show", "--json")
	require.NoError(t, err)

	// Then: it decodes and reflects the defaults
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	server, ok := doc["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(8000), server["port"])
}

func TestConfigShow_NeverPrintsAPIKey(t *testing.T) {
	// Given: a key in the environment
	isolateConfig(t)
	t.Setenv("OPENAI_API_KEY", "sk-super-secret")

	// When: showing the effective config
	out, err := runCommand(t, "config", "show")
	require.NoError(t, err)

	// Then: the key is absent
	assert.NotContains(t, out, "sk-super-secret")
}
