package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "order-verification", cfg.AppName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "mysql", cfg.StorageDriver)
	assert.Equal(t, 5*time.Minute, cfg.MySQLConnMaxLifetime)
	assert.Equal(t, "ORD-", cfg.OrderCodePrefix)
	assert.False(t, cfg.StrictVerificationPayload)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := "STORAGE_DRIVER=memory\nFEED_WORKERS=2\nRECONCILE_INTERVAL=30s\nLOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o600))
	t.Setenv("FEED_WORKERS", "8")
	t.Setenv("STRICT_VERIFICATION_PAYLOAD", "true")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, 8, cfg.FeedWorkers)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.True(t, cfg.StrictVerificationPayload)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoad_RejectsUnknownDrivers(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "STORAGE_DRIVER")

	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("NOTIFIER", "sqs")
	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "NOTIFIER")
}
