package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
app:
  env: test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, DriverSQLite, cfg.Data.Driver)
	assert.Equal(t, 60, cfg.Data.MinBars)
	assert.Equal(t, 3, cfg.Data.Retry.MaxAttempts)
	assert.InDelta(t, 0.0015, cfg.Backtest.FrictionRate, 1e-12)
	assert.Equal(t, TieBreakStopFirst, cfg.Backtest.TieBreak)
	assert.Equal(t, EntryTimingSignalClose, cfg.Backtest.EntryTiming)
	assert.Equal(t, 30, cfg.Scoring.MinSample)
	assert.InDelta(t, 0.35, cfg.Scoring.Weights.WinRate, 1e-12)
	assert.Equal(t, 4, cfg.Optimizer.Workers)
	assert.Equal(t, "reports", cfg.Report.OutputDir)
	assert.True(t, cfg.Report.Charts)
}

func TestLoadMergesIncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "base.yaml", `
backtest:
  friction_rate: 0.002
  tie_break: target_first
scoring:
  min_sample: 25
`)
	path := writeConfigFile(t, dir, "config.yaml", `
include:
  - base.yaml
backtest:
  friction_rate: 0.001
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// 主文件覆盖 include 文件，未覆盖的键保留 include 的值。
	assert.InDelta(t, 0.001, cfg.Backtest.FrictionRate, 1e-12)
	assert.Equal(t, TieBreakTargetFirst, cfg.Backtest.TieBreak)
	assert.Equal(t, 25, cfg.Scoring.MinSample)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeConfigFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad tie break",
			yaml:    "backtest:\n  tie_break: coin_flip\n",
			wantErr: "tie_break",
		},
		{
			name:    "bad entry timing",
			yaml:    "backtest:\n  entry_timing: whenever\n",
			wantErr: "entry_timing",
		},
		{
			name:    "postgres without dsn",
			yaml:    "data:\n  driver: postgres\n",
			wantErr: "postgres_dsn",
		},
		{
			name:    "friction out of range",
			yaml:    "backtest:\n  friction_rate: 0.5\n",
			wantErr: "friction_rate",
		},
		{
			name:    "negative weight",
			yaml:    "scoring:\n  weights:\n    win_rate: -1\n    trade_count: 2\n    profit_factor: 1\n",
			wantErr: "weights",
		},
		{
			name:    "telegram missing token",
			yaml:    "notify:\n  telegram:\n    enabled: true\n    chat_id: \"123\"\n",
			wantErr: "bot_token",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfigFile(t, dir, "config.yaml", tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}
