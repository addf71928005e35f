package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("STORE_MODE", "mysql")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST, DB_NAME, DB_USER, JWT_SECRET")
}

func TestLoad_MemoryMode(t *testing.T) {
	t.Setenv("STORE_MODE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("APP_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreMode)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 10, cfg.BcryptCost)
}

func TestLoad_InvalidStoreMode(t *testing.T) {
	t.Setenv("STORE_MODE", "postgres")
	t.Setenv("JWT_SECRET", "s3cret")
	_, err := Load()
	assert.Error(t, err)
}

func TestParseDiscounts(t *testing.T) {
	d, err := ParseDiscounts("youth:2000, SENIOR:3000,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"YOUTH": 2000, "SENIOR": 3000}, d)

	_, err = ParseDiscounts("YOUTH")
	assert.Error(t, err)
	_, err = ParseDiscounts("YOUTH:-1")
	assert.Error(t, err)
}

func TestLoadEngineAndSweeperDefaults(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "")
	t.Setenv("SWEEP_INTERVAL", "")
	t.Setenv("PAYMENT_TIMEOUT", "45m")
	t.Setenv("SWEEP_BATCH_SIZE", "0")

	e, err := LoadEngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, e.LockTimeout)
	assert.InDelta(t, 0.05, e.PointsRate, 1e-9)

	s := LoadSweeperConfig()
	assert.Equal(t, 10*time.Minute, s.Interval)
	assert.Equal(t, 45*time.Minute, s.PaymentTimeout)
	assert.Equal(t, 100, s.BatchSize)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("UOS_DOTENV_PROBE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("UOS_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("UOS_DOTENV_PROBE"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
