package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/fieldsync/field.db
remote_url: ws://sync.example.com/v1
user_id: surveyor-7
surveys_dir: /etc/fieldsync/surveys
sync:
  poll_interval: 15s
  workers: 2
  push_timeout: 45s
  retry:
    max_attempts: 3
    initial_backoff: 500ms
    max_backoff: 2m
    multiplier: 2.0
    jitter: 0.2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fieldsync/field.db", cfg.Database)
	assert.Equal(t, "ws://sync.example.com/v1", cfg.RemoteURL)
	assert.Equal(t, "surveyor-7", cfg.UserID)

	sc := cfg.SyncerConfig()
	assert.Equal(t, 15*time.Second, sc.PollInterval)
	assert.Equal(t, 2, sc.Workers)
	assert.Equal(t, 45*time.Second, sc.PushTimeout)
	assert.Equal(t, 3, sc.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, sc.Retry.InitialBackoff)
	assert.Equal(t, 2*time.Minute, sc.Retry.MaxBackoff)
	assert.Equal(t, 2.0, sc.Retry.BackoffMultiplier)
	assert.Equal(t, 0.2, sc.Retry.Jitter)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no database",
			content: "remote_url: ws://x\nuser_id: u\n",
			wantErr: "database is required",
		},
		{
			name:    "no remote",
			content: "database: /tmp/d.db\nuser_id: u\n",
			wantErr: "remote_url is required",
		},
		{
			name:    "no user",
			content: "database: /tmp/d.db\nremote_url: ws://x\n",
			wantErr: "user_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
database: /tmp/d.db
remote_url: ws://x
user_id: u
pol_interval: 30s
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfig(t, `
database: /tmp/d.db
remote_url: ws://x
user_id: u
sync:
  poll_interval: soon
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadConfig_FileMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
