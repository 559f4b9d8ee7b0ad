package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSetups = `
setups:
  rsi_oversold_bounce:
    description: RSI 超卖反弹
    category: equity
    entry_timing: signal_close
    entry_conditions:
      - field: rsi_14
        op: lt
        value: 30
      - field: sma_200_dist_pct
        op: gt
        value: 0
    exit_policy:
      fixed:
        stop_pct: 0.05
        target_pct: 0.10
      time:
        max_hold_days: 20
    param_schema:
      type: object
      additionalProperties: false
      properties:
        rsi_14:
          type: number
          minimum: 5
          maximum: 50
        stop_pct:
          type: number
          exclusiveMinimum: 0
          maximum: 0.5
        target_pct:
          type: number
          exclusiveMinimum: 0
        max_hold_days:
          type: integer
          minimum: 1
  breakout_trail:
    category: crypto
    entry_conditions:
      - field: new_20d_high
        op: eq
        value: 1
    exit_policy:
      trailing:
        initial_stop_pct: 0.08
        profit_target_pct: 0.15
        trail_trigger_pct: 0.05
        lock_in_fraction: 0.5
`

func writeSetups(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoadAndGet(t *testing.T) {
	r, err := NewRegistry(writeSetups(t, sampleSetups))
	require.NoError(t, err)

	assert.Equal(t, []string{"breakout_trail", "rsi_oversold_bounce"}, r.Names())

	def, ok := r.Get("rsi_oversold_bounce")
	require.True(t, ok)
	assert.Equal(t, "equity", def.Category)
	assert.Equal(t, EntryTimingSignalClose, def.EntryTiming)
	require.Len(t, def.EntryConditions, 2)
	assert.InDelta(t, 30, def.EntryConditions[0].Value, 1e-12)
	require.NotNil(t, def.Exit.Fixed)
	require.NotNil(t, def.Exit.Time)

	// 未声明 entry_timing 时保留空值，回退发生在引擎侧。
	trail, ok := r.Get("breakout_trail")
	require.True(t, ok)
	assert.Empty(t, trail.EntryTiming)

	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestRegistryWithOverridesReturnsNewValue(t *testing.T) {
	r, err := NewRegistry(writeSetups(t, sampleSetups))
	require.NoError(t, err)

	overridden, err := r.WithOverrides("rsi_oversold_bounce", map[string]float64{
		"rsi_14":        25,
		"stop_pct":      0.04,
		"max_hold_days": 10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 25, overridden.EntryConditions[0].Value, 1e-12)
	assert.InDelta(t, 0.04, overridden.Exit.Fixed.StopPct, 1e-12)
	assert.Equal(t, 10, overridden.Exit.Time.MaxHoldDays)

	// 注册表中的原始定义不受影响。
	original, ok := r.Get("rsi_oversold_bounce")
	require.True(t, ok)
	assert.InDelta(t, 30, original.EntryConditions[0].Value, 1e-12)
	assert.InDelta(t, 0.05, original.Exit.Fixed.StopPct, 1e-12)
	assert.Equal(t, 20, original.Exit.Time.MaxHoldDays)
}

func TestRegistryWithOverridesRejectsUnknownParam(t *testing.T) {
	r, err := NewRegistry(writeSetups(t, sampleSetups))
	require.NoError(t, err)

	_, err = r.WithOverrides("breakout_trail", map[string]float64{"atr_mult": 2})
	require.Error(t, err)
}

func TestRegistryWithOverridesSchemaViolation(t *testing.T) {
	r, err := NewRegistry(writeSetups(t, sampleSetups))
	require.NoError(t, err)

	// schema 限制 rsi_14 最大 50。
	_, err = r.WithOverrides("rsi_oversold_bounce", map[string]float64{"rsi_14": 80})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestRegistryWithOverridesUnknownSetup(t *testing.T) {
	r, err := NewRegistry(writeSetups(t, sampleSetups))
	require.NoError(t, err)

	_, err = r.WithOverrides("missing", nil)
	require.ErrorIs(t, err, ErrUnknownSetup)
}

func TestRegistryRejectsBadFiles(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "category mismatch is fatal",
			yaml: `
setups:
  bad:
    category: crypto
    entry_conditions:
      - field: short_interest_ratio
        op: gt
        value: 0.2
    exit_policy:
      fixed: {stop_pct: 0.05, target_pct: 0.1}
`,
		},
		{
			name: "unknown yaml field rejected",
			yaml: `
setups:
  bad:
    category: equity
    entry_conditionz:
      - field: rsi_14
        op: lt
        value: 30
    exit_policy:
      fixed: {stop_pct: 0.05, target_pct: 0.1}
`,
		},
		{
			name: "missing exit policy",
			yaml: `
setups:
  bad:
    category: equity
    entry_conditions:
      - field: rsi_14
        op: lt
        value: 30
`,
		},
		{
			name: "bad operator",
			yaml: `
setups:
  bad:
    category: equity
    entry_conditions:
      - field: rsi_14
        op: between
        value: 30
    exit_policy:
      fixed: {stop_pct: 0.05, target_pct: 0.1}
`,
		},
		{
			name: "empty file",
			yaml: "setups: {}\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(writeSetups(t, tc.yaml))
			require.Error(t, err)
		})
	}
}
