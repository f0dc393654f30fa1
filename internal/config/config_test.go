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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := GetDefaults()
	require.NoError(t, validateConfig(cfg))

	assert.True(t, cfg.Redaction.UseRemoteTier)
	assert.Equal(t, "qwen3:8b", cfg.Redaction.RemoteModelIdentifier)
	assert.Equal(t, 5, cfg.Redaction.PassBudget)
	assert.Equal(t, 0.7, cfg.Redaction.ConfidenceThreshold)
	assert.Equal(t, "short_circuit", cfg.Redaction.TierPolicy)
	assert.Equal(t, []string{"민원제목", "질문내용", "답변내용"}, cfg.Redaction.TargetColumns)
	assert.Equal(t, 120*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, int64(16<<20), cfg.Uploads.MaxBytes)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
redaction:
  use_remote_tier: false
  tier_policy: augment
  pass_budget: 3
remote:
  timeout: 30s
batch:
  workers: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Redaction.UseRemoteTier)
	assert.Equal(t, "augment", cfg.Redaction.TierPolicy)
	assert.Equal(t, 3, cfg.Redaction.PassBudget)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 8, cfg.Batch.Workers)
	// untouched keys keep their defaults
	assert.Equal(t, 0.7, cfg.Redaction.ConfidenceThreshold)
	assert.Equal(t, "http://localhost:11434", cfg.Remote.Endpoint)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "redaction:\n  tier_policy: short_circuit\n")
	t.Setenv("REDACTOR_REDACTION_TIER_POLICY", "augment")
	t.Setenv("REDACTOR_REDACTION_USE_REMOTE_TIER", "false")
	t.Setenv("REDACTOR_BATCH_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "augment", cfg.Redaction.TierPolicy)
	assert.False(t, cfg.Redaction.UseRemoteTier)
	assert.Equal(t, 2, cfg.Batch.Workers)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"tier policy", "redaction:\n  tier_policy: sometimes\n"},
		{"pass budget", "redaction:\n  pass_budget: 0\n"},
		{"threshold", "redaction:\n  confidence_threshold: 1.5\n"},
		{"recognizer", "recognizer:\n  backend: spacy\n"},
		{"cache backend", "cache:\n  backend: memcached\n"},
		{"log level", "logging:\n  level: trace\n"},
		{"port", "server:\n  port: 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
