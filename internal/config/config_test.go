package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/toyz/waypoint/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waypoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "echo", cfg.Server.Driver)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.App.ConvertResponse)
	assert.Equal(t, int64(10<<20), cfg.App.MaxBodyBytes)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "waypoint_session", cfg.Session.Cookie)
	assert.Equal(t, ":8080", cfg.Server.Addr())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  driver: gin
  trusted_proxies: [10.0.0.0/8, 192.0.2.1]
app:
  global_prefix: /api
  version: v2
rate_limit:
  limit: 5
  window: 30s
`)
	t.Setenv("WAYPOINT_SERVER_DRIVER", "chi")
	t.Setenv("WAYPOINT_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "chi", cfg.Server.Driver, "env overrides file")
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "/api", cfg.App.GlobalPrefix)
	assert.Equal(t, "v2", cfg.App.Version)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read configuration 'file'")
	assert.True(t, werrors.HasCode(err, werrors.ConfigurationErrorCode))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     string
	}{
		{"unknown driver", "server:\n  driver: iris\n", "server.driver must be one of"},
		{"bad prefix", "app:\n  global_prefix: api/\n", "app.global_prefix"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"redis without addr", "session:\n  backend: redis\n", "session.backend is redis but redis.addr is empty"},
		{"bad trusted proxy", "server:\n  trusted_proxies: [10.0.0.0/33]\n", `server.trusted_proxies invalid trusted proxy "10.0.0.0/33"`},
		{"unknown backend", "rate_limit:\n  backend: etcd\n", "rate_limit.backend must be memory or redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
			assert.True(t, werrors.HasCode(err, werrors.ConfigurationErrorCode))
		})
	}
}
