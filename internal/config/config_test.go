package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gdabridge.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "/ws/page", cfg.Server.PagePath)
	assert.Equal(t, 24*time.Hour, cfg.Server.HandledTTL())
	assert.Equal(t, "gda", cfg.Store.Namespace)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.View.Headless)
}

func TestLoad_FileWithComments(t *testing.T) {
	path := writeConfig(t, `{
		// local development
		"server": {"host": "127.0.0.1", "port": 9000, "listen_addr": "", "page_path": ""},
		"project": {
			"table_path": "data/baltimore.jsonc",
			"variables": ["PRICE", "AGE",],
		},
		"logger": {"level": "debug"},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, "/ws/page", cfg.Server.PagePath)
	assert.Equal(t, "data/baltimore.jsonc", cfg.Project.TablePath)
	assert.Equal(t, []string{"PRICE", "AGE"}, cfg.Project.Variables)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"server": {"auth_token": "from-file"}}`)
	t.Setenv("GDA_AUTH_TOKEN", "from-env")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("GDA_LOG_LEVEL", "warn")
	t.Setenv("GDA_VARIABLES", "HOVAL,CRIME")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.AuthToken)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, []string{"HOVAL", "CRIME"}, cfg.Project.Variables)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	assert.ErrorContains(t, err, "read config failed")

	_, err = Load(writeConfig(t, `{"server": `))
	assert.ErrorContains(t, err, "parse config failed")
}
