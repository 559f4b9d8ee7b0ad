package backtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
)

func TestDeriveLevelsFixed(t *testing.T) {
	lv, err := deriveLevels(setup.ExitConfig{
		Fixed: &setup.FixedStopTarget{StopPct: 0.05, TargetPct: 0.10},
	}, 100, 0)
	require.NoError(t, err)
	require.InDelta(t, 95.0, lv.stop, 1e-9)
	require.InDelta(t, 110.0, lv.target, 1e-9)
	require.Zero(t, lv.maxHoldDays)
	require.Nil(t, lv.trailing)
}

func TestDeriveLevelsATR(t *testing.T) {
	lv, err := deriveLevels(setup.ExitConfig{
		ATR: &setup.ATRStop{ATRMult: 2, TargetRMult: 3},
	}, 100, 1.5)
	require.NoError(t, err)
	require.InDelta(t, 97.0, lv.stop, 1e-9)
	require.InDelta(t, 109.0, lv.target, 1e-9)

	_, err = deriveLevels(setup.ExitConfig{
		ATR: &setup.ATRStop{ATRMult: 2, TargetRMult: 3},
	}, 100, 0)
	require.Error(t, err)

	// 止损距离不能吞掉整个入场价。
	_, err = deriveLevels(setup.ExitConfig{
		ATR: &setup.ATRStop{ATRMult: 50, TargetRMult: 1},
	}, 100, 3)
	require.Error(t, err)
}

func TestDeriveLevelsCombinedTakesTighterSide(t *testing.T) {
	lv, err := deriveLevels(setup.ExitConfig{
		Fixed:    &setup.FixedStopTarget{StopPct: 0.08, TargetPct: 0.20},
		ATR:      &setup.ATRStop{ATRMult: 2, TargetRMult: 5},
		Trailing: &setup.TrailingStop{InitialStopPct: 0.04, TrailTriggerPct: 0.03, ProfitTargetPct: 0.10, LockInFraction: 0.5},
		Time:     &setup.TimeStop{MaxHoldDays: 20},
	}, 100, 1)
	require.NoError(t, err)
	// 止损取最先触发的价位：fixed 92 / atr 98 / trailing 96 → 98。
	require.InDelta(t, 98.0, lv.stop, 1e-9)
	// 止盈同理取更近的一档：fixed 120 / atr 110 → 110。
	require.InDelta(t, 110.0, lv.target, 1e-9)
	require.Equal(t, 20, lv.maxHoldDays)
	require.NotNil(t, lv.trailing)
}

func TestDeriveLevelsRejectsBadEntry(t *testing.T) {
	_, err := deriveLevels(setup.ExitConfig{
		Fixed: &setup.FixedStopTarget{StopPct: 0.05, TargetPct: 0.10},
	}, 0, 0)
	require.Error(t, err)
}

func TestRatchetBelowTriggerIsNoop(t *testing.T) {
	lv, err := deriveLevels(setup.ExitConfig{
		Trailing: &setup.TrailingStop{InitialStopPct: 0.10, ProfitTargetPct: 0.08, TrailTriggerPct: 0.03, LockInFraction: 0.5},
	}, 100, 0)
	require.NoError(t, err)
	require.InDelta(t, 90.0, lv.stop, 1e-9)

	lv.ratchet(100, 102) // 浮盈 2% 未到触发线
	require.InDelta(t, 90.0, lv.stop, 1e-9)
	require.False(t, lv.trailed())

	lv.ratchet(100, 104)
	require.InDelta(t, 98.8, lv.stop, 1e-9)
	require.True(t, lv.trailed())

	lv.ratchet(100, 103) // 高点回落，止损不回撤
	require.InDelta(t, 98.8, lv.stop, 1e-9)
}
