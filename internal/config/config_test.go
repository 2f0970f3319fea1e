package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "local", cfg.NATS.Bus)
	assert.Equal(t, 5*time.Second, cfg.Chat.TypingTTL)
	assert.Equal(t, int64(25<<20), cfg.Blob.MaxBytes)
	assert.True(t, cfg.Chat.AutoAckDelivery)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
app:
  port: 9000
storage:
  driver: postgres
database:
  host: db.internal
chat:
  typing_ttl: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("POSTGRES_HOST", "override.internal")
	t.Setenv("CARECHAT_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 3*time.Second, cfg.Chat.TypingTTL)
	assert.Equal(t, "postgres://postgres:@override.internal:5432/carechat?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("CARECHAT_BLOB_DRIVER", "ftp")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv_DoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CARECHAT_DOTENV_A=from-file\nCARECHAT_DOTENV_B=from-file\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("CARECHAT_DOTENV_B=from-local\n"), 0o600))
	t.Setenv("CARECHAT_DOTENV_A", "from-process")
	t.Cleanup(func() { os.Unsetenv("CARECHAT_DOTENV_B") })

	loaded := LoadDotEnv(dir)

	assert.Len(t, loaded, 2)
	assert.Equal(t, "from-process", os.Getenv("CARECHAT_DOTENV_A"))
	assert.Equal(t, "from-local", os.Getenv("CARECHAT_DOTENV_B"))
}
