package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNodeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfigCheckValid(t *testing.T) {
	path := writeNodeConfig(t, "server_id: A\npeer_url: http://127.0.0.1:5001\napi_token: s3cret\n")

	out, err := runRoot(t, "config", "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
	assert.Contains(t, out, "server_id: A")
	assert.Contains(t, out, "sync_interval: 5s")
	assert.NotContains(t, out, "s3cret")
}

func TestConfigCheckJSON(t *testing.T) {
	path := writeNodeConfig(t, "server_id: B\npeer_url: http://127.0.0.1:5000\nfull_sync_every: 0\n")

	out, err := runRoot(t, "--format", "json", "config", "check", "--config", path)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "B", resp.Data["server_id"])
	assert.Equal(t, false, resp.Data["report_api"])
	assert.EqualValues(t, 0, resp.Data["full_sync_every"])
}

func TestConfigCheckInvalid(t *testing.T) {
	path := writeNodeConfig(t, "server_id: A\npeer_url: ftp://nowhere\n")

	out, err := runRoot(t, "config", "check", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestServeBadConfig(t *testing.T) {
	_, err := runRoot(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestServeMissingConfigFlag(t *testing.T) {
	_, err := runRoot(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
