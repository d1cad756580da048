package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rlm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Model)
	assert.Equal(t, BackendOpenAI, cfg.Model.Backend)
	assert.Equal(t, 20, cfg.Loop.MaxIterations)
	assert.True(t, cfg.Loop.LoopDetection)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	cfg, err := load("", map[string]string{
		"HOST":                "127.0.0.1",
		"PORT":                "9001",
		"RLM_MAX_ITERATIONS":  "7",
		"RLM_LOGGING":         "true",
		"RLM_MODEL":           "gpt-5",
		"RLM_BACKEND":         "GoLLM",
		"RLM_ALLOWED_ORIGINS": "http://a.test,http://b.test",
		"RLM_SESSION_TTL":     "5m",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9001", cfg.Server.Addr())
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	assert.True(t, cfg.Logging.Verbose)
	assert.Equal(t, "gpt-5", cfg.Model.Model)
	assert.Equal(t, BackendGollm, cfg.Model.Backend)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Server.SessionTTL)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
server:
  port: 8100
  session_ttl: 90s
model:
  model: gpt-4o
  recursive_model: gpt-4o-mini
loop:
  max_iterations: 12
  loop_detection: false
logging:
  level: debug
`)

	cfg, err := load("", map[string]string{"RLM_CONFIG": path, "RLM_MAX_ITERATIONS": "3"})
	require.NoError(t, err)

	assert.Equal(t, 8100, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Server.SessionTTL)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.RecursiveModel)
	assert.Equal(t, 3, cfg.Loop.MaxIterations, "environment wins over the file")
	assert.False(t, cfg.Loop.LoopDetection)
	assert.Equal(t, "debug", cfg.Logging.Level)

	engine := cfg.Engine()
	assert.Equal(t, "gpt-4o", engine.Model)
	assert.Equal(t, "gpt-4o-mini", engine.RecursiveModel)
	assert.Equal(t, 3, engine.MaxIterations)
	assert.False(t, engine.EnableLoopDetection)
}

func TestLoadErrors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	assert.ErrorContains(t, err, "read config file")

	_, err = load(writeFile(t, "server: [not, a, map"), map[string]string{})
	assert.ErrorContains(t, err, "parse config file")

	_, err = load("", map[string]string{"PORT": "eighty"})
	assert.ErrorContains(t, err, "parse environment")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Loop.MaxIterations = -1
	cfg.Model.Backend = "carrier-pigeon"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.port", "loop.max_iterations", "model.backend", "logging.level"} {
		assert.ErrorContains(t, err, want)
	}
}
