package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/history"
)

const appSetupsYAML = `
setups:
  dip_buy:
    category: equity
    entry_conditions:
      - field: rsi_14
        op: lt
        value: 30
    exit_policy:
      fixed:
        stop_pct: 0.05
        target_pct: 0.10
`

const appUniversesYAML = `
universes:
  pair:
    kind: fixed
    members:
      - asset_id: AAPL
`

func writeAppConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	setupsPath := filepath.Join(dir, "setups.yaml")
	require.NoError(t, os.WriteFile(setupsPath, []byte(appSetupsYAML), 0o644))
	uniPath := filepath.Join(dir, "universes.yaml")
	require.NoError(t, os.WriteFile(uniPath, []byte(appUniversesYAML), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfgText := fmt.Sprintf(`
app:
  env: test
  log_level: warn
data:
  driver: sqlite
  sqlite_path: %s
backtest:
  setups_path: %s
  universes_path: %s
  results_path: %s
report:
  output_dir: %s
  charts: false
`,
		filepath.Join(dir, "history.db"), setupsPath, uniPath,
		filepath.Join(dir, "results.db"), filepath.Join(dir, "reports"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgText), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	cfg := writeAppConfig(t)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.History)
	require.NotNil(t, a.Registry)
	require.NotNil(t, a.Resolver)
	require.NotNil(t, a.Engine)
	require.NotNil(t, a.Results)
	require.NotNil(t, a.Optimizer)
	require.NotNil(t, a.Exporter)
	require.NotNil(t, a.Notifier)
	require.NotNil(t, a.Materializer())

	// 默认重试 3 次，读路径应当包上 Retrying。
	_, ok := a.Provider.(*history.Retrying)
	require.True(t, ok)

	require.Equal(t, a.Registry, a.Engine.Registry)
	require.Equal(t, cfg.Data.MinBars, a.Engine.MinBars)
	require.False(t, a.Notifier.Enabled())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := writeAppConfig(t)
	cfg.Data.Driver = "oracle"

	_, err := New(context.Background(), cfg)
	require.ErrorContains(t, err, "未知历史库驱动")
}

func TestNewFailsOnMissingSetupsFile(t *testing.T) {
	cfg := writeAppConfig(t)
	cfg.Backtest.SetupsPath = filepath.Join(t.TempDir(), "nope.yaml")

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestIngestRequiresRemoteBaseURL(t *testing.T) {
	cfg := writeAppConfig(t)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Ingest()
	require.ErrorContains(t, err, "base_url")

	a.Cfg.Data.Remote.BaseURL = "http://127.0.0.1:9/daily"
	svc, err := a.Ingest()
	require.NoError(t, err)
	require.NotNil(t, svc)
}
