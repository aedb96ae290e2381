package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, DefaultEnv, cfg.Environment)
	require.EqualValues(t, 2048, cfg.HashCells)
	require.Equal(t, 50*time.Second, cfg.WaitTimeout)
	require.True(t, cfg.DeadlockDetect)
	require.False(t, cfg.ReportAllDeadlocks)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ROWSTORE_ENVIRONMENT", "prod")
	t.Setenv("ROWSTORE_HASH_CELLS", "128")
	t.Setenv("ROWSTORE_WAIT_TIMEOUT", "2s")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, EnvProd, cfg.Environment)
	require.EqualValues(t, 128, cfg.HashCells)
	require.Equal(t, 2*time.Second, cfg.WaitTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	require.Error(t, LockConfig{Environment: "staging", HashCells: 1}.Validate())
	require.Error(t, LockConfig{Environment: EnvDev, HashCells: 0}.Validate())
	require.Error(t, LockConfig{
		Environment: EnvDev,
		HashCells:   1,
		WaitTimeout: -time.Second,
	}.Validate())
	require.NoError(t, LockConfig{Environment: EnvDev, HashCells: 1}.Validate())
}
