package mqttconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodalcore/mqttpipe/mqttconfig"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, mqttconfig.Default().Validate())
}

func TestWithPortRejectsOutOfRange(t *testing.T) {
	_, err := mqttconfig.New(mqttconfig.WithPort(70000))
	require.Error(t, err)
}

func TestWithHostAndCredentials(t *testing.T) {
	cfg, err := mqttconfig.New(
		mqttconfig.WithHost("broker.example.com"),
		mqttconfig.WithCredentials("alice", "s3cret"),
	)
	require.NoError(t, err)
	require.Equal(t, "broker.example.com", cfg.Host)
	require.Equal(t, "alice", cfg.Username)
	require.Equal(t, "s3cret", cfg.Password)
}

func TestLoadFromEnvOverridesPort(t *testing.T) {
	t.Setenv("MQTTPIPE_PORT", "1884")
	cfg, err := mqttconfig.New()
	require.NoError(t, err)
	require.Equal(t, 1884, cfg.Port)
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mqttpipe.yaml")
	doc := "host: yaml-host\nport: 8884\nbackend:\n  provider: redis\n  redis_url: redis://yaml:6379/1\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := mqttconfig.New(mqttconfig.WithConfigFile(path))
	require.NoError(t, err)
	require.Equal(t, "yaml-host", cfg.Host)
	require.Equal(t, 8884, cfg.Port)
	require.Equal(t, "redis://yaml:6379/1", cfg.Backend.RedisURL)
}

func TestValidateRejectsMissingRedisURLForRedisProvider(t *testing.T) {
	cfg := mqttconfig.Default()
	cfg.Backend.Provider = "redis"
	cfg.Backend.RedisURL = ""
	require.Error(t, cfg.Validate())
}
