package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "depscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":19090", cfg.Server.AdminAddress)
	assert.Equal(t, ":8443", cfg.Server.DataAddress)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.Server.TLS)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  admin_address: ":19091"
  data_address: ":9443"
  tls:
    cert_file: server.pem
    key_file: server-key.pem
    client_ca_file: ca.pem
    require_client_cert: true
observer:
  config_file: observer.json
routes:
  file: routes.yaml
  watch: true
logging:
  level: DEBUG
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":19091", cfg.Server.AdminAddress)
	assert.Equal(t, "observer.json", cfg.Observer.ConfigFile)
	assert.True(t, cfg.Routes.Watch)
	require.NotNil(t, cfg.Server.TLS)
	assert.True(t, cfg.Server.TLS.RequireClientCert)
	assert.Equal(t, "debug", cfg.Logging.Level, "level should be normalized")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEPSCOPE_DATA_ADDR", ":7443")
	t.Setenv("DEPSCOPE_LOG_LEVEL", "warn")
	t.Setenv("DEPSCOPE_TLS_CERT_FILE", "env.pem")
	t.Setenv("DEPSCOPE_TLS_KEY_FILE", "env-key.pem")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7443", cfg.Server.DataAddress)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NotNil(t, cfg.Server.TLS)
	assert.Equal(t, "env.pem", cfg.Server.TLS.CertFile)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "same addresses",
			body: "server:\n  admin_address: \":9000\"\n  data_address: \":9000\"\n",
		},
		{
			name: "cert without key",
			body: "server:\n  tls:\n    cert_file: only-cert.pem\n",
		},
		{
			name: "client cert required without CA",
			body: "server:\n  tls:\n    require_client_cert: true\n",
		},
		{
			name: "watch without file",
			body: "routes:\n  watch: true\n",
		},
		{
			name: "bad log level",
			body: "logging:\n  level: verbose\n",
		},
		{
			name: "bad tls version",
			body: "server:\n  tls:\n    min_version: \"1.1\"\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}
