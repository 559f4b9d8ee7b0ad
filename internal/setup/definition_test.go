package setup

import (
	"testing"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(fields map[string]float64) market.FeatureSnapshot {
	return market.FeatureSnapshot{
		AssetID: "AAPL",
		Date:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Fields:  fields,
	}
}

func TestConditionMatches(t *testing.T) {
	snap := snapshotWith(map[string]float64{"rsi_14": 25, "volume_ratio_20": 1.5})

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"lt true", Condition{Field: "rsi_14", Op: OpLT, Value: 30}, true},
		{"lt false", Condition{Field: "rsi_14", Op: OpLT, Value: 20}, false},
		{"gt true", Condition{Field: "volume_ratio_20", Op: OpGT, Value: 1.0}, true},
		{"gte boundary", Condition{Field: "rsi_14", Op: OpGTE, Value: 25}, true},
		{"lte boundary", Condition{Field: "rsi_14", Op: OpLTE, Value: 25}, true},
		{"eq", Condition{Field: "rsi_14", Op: OpEQ, Value: 25}, true},
		{"ne", Condition{Field: "rsi_14", Op: OpNE, Value: 25}, false},
		{"missing field is not met", Condition{Field: "atr_14_pct", Op: OpGT, Value: 0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cond.Matches(snap))
		})
	}
}

func TestEntryMatchesIsConjunction(t *testing.T) {
	def := Definition{
		Name:     "oversold_bounce",
		Category: "equity",
		EntryConditions: []Condition{
			{Field: "rsi_14", Op: OpLT, Value: 30},
			{Field: "sma_200_dist_pct", Op: OpGT, Value: 0},
		},
		Exit: ExitConfig{Fixed: &FixedStopTarget{StopPct: 0.05, TargetPct: 0.10}},
	}

	assert.True(t, def.EntryMatches(snapshotWith(map[string]float64{
		"rsi_14":           25,
		"sma_200_dist_pct": 0.03,
	})))
	// 任一条件不满足即整体不满足。
	assert.False(t, def.EntryMatches(snapshotWith(map[string]float64{
		"rsi_14":           25,
		"sma_200_dist_pct": -0.02,
	})))
	// 字段缺失按条件不成立处理。
	assert.False(t, def.EntryMatches(snapshotWith(map[string]float64{
		"rsi_14": 25,
	})))
}

func TestEntryMatchesEmptyConditions(t *testing.T) {
	def := Definition{Name: "noop"}
	assert.False(t, def.EntryMatches(snapshotWith(map[string]float64{"rsi_14": 10})))
}

func TestParamNames(t *testing.T) {
	def := Definition{
		Name:     "pullback",
		Category: "equity",
		EntryConditions: []Condition{
			{Field: "rsi_14", Op: OpLT, Value: 35},
			{Field: "rsi_14", Op: OpGT, Value: 15, Param: "rsi_floor"},
		},
		Exit: ExitConfig{
			Fixed: &FixedStopTarget{StopPct: 0.05, TargetPct: 0.1},
			Time:  &TimeStop{MaxHoldDays: 20},
		},
	}

	names := def.ParamNames()
	assert.Equal(t, []string{"max_hold_days", "rsi_14", "rsi_floor", "stop_pct", "target_pct"}, names)
}

func TestDefinitionValidateCategoryFields(t *testing.T) {
	def := Definition{
		Name:     "crypto_squeeze",
		Category: "crypto",
		EntryConditions: []Condition{
			{Field: "short_interest_ratio", Op: OpGT, Value: 0.2},
		},
		Exit: ExitConfig{Fixed: &FixedStopTarget{StopPct: 0.05, TargetPct: 0.1}},
	}

	err := def.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short_interest_ratio")
}

func TestExitConfigValidate(t *testing.T) {
	t.Run("empty rejected", func(t *testing.T) {
		var e ExitConfig
		require.Error(t, e.validate())
	})
	t.Run("trailing trigger above target rejected", func(t *testing.T) {
		e := ExitConfig{Trailing: &TrailingStop{
			InitialStopPct:  0.07,
			ProfitTargetPct: 0.05,
			TrailTriggerPct: 0.08,
			LockInFraction:  0.5,
		}}
		require.Error(t, e.validate())
	})
	t.Run("composed ok", func(t *testing.T) {
		e := ExitConfig{
			ATR:  &ATRStop{ATRMult: 2, TargetRMult: 3},
			Time: &TimeStop{MaxHoldDays: 15},
		}
		require.NoError(t, e.validate())
		assert.Equal(t, "atr+time", e.String())
	})
}
