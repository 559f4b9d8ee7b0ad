package backtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
)

func tbar(day string, o, h, l, c float64) market.DailyBar {
	return market.DailyBar{
		AssetID: "AAPL",
		Date:    market.MustParseDate(day),
		Open:    o, High: h, Low: l, Close: c,
		Volume: 1_000_000,
	}
}

func cand(day string, close float64) Candidate {
	return Candidate{AssetID: "AAPL", Date: market.MustParseDate(day), Close: close}
}

func fixedDef(stopPct, targetPct float64) setup.Definition {
	return setup.Definition{
		Name:        "demo_fixed",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit: setup.ExitConfig{
			Fixed: &setup.FixedStopTarget{StopPct: stopPct, TargetPct: targetPct},
		},
	}
}

func TestStopBeatsTargetOnSameBar(t *testing.T) {
	def := fixedDef(0.05, 0.10)
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		// 同一根日线同时触及止损 95 和止盈 110。
		tbar("2024-01-03", 100, 112, 94, 100),
	}
	cands := []Candidate{cand("2024-01-02", 100)}

	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, cands)
	require.Len(t, trades, 1)
	require.Equal(t, ExitStopLoss, trades[0].ExitReason)
	require.InDelta(t, 95.0, trades[0].ExitPrice, 1e-9)

	sim = &Simulator{TieBreak: config.TieBreakTargetFirst}
	trades = sim.SimulateAsset(def, bars, cands)
	require.Len(t, trades, 1)
	require.Equal(t, ExitProfitTarget, trades[0].ExitReason)
	require.InDelta(t, 110.0, trades[0].ExitPrice, 1e-9)
}

func TestFrictionChargedExactlyTwice(t *testing.T) {
	def := fixedDef(0.50, 0.10)
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 105, 111, 104, 108),
	}
	cands := []Candidate{cand("2024-01-02", 100)}

	sim := &Simulator{Friction: 0.0015, TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, cands)
	require.Len(t, trades, 1)
	require.InDelta(t, 110.0, trades[0].ExitPrice, 1e-9)
	require.InDelta(t, 0.097, trades[0].ReturnPct, 1e-9)
}

func TestGapThroughLevelFillsAtOpen(t *testing.T) {
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}

	def := fixedDef(0.05, 0.10)
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		// 跳空低开越过止损价 95，按开盘 90 成交。
		tbar("2024-01-03", 90, 92, 88, 91),
	}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitStopLoss, trades[0].ExitReason)
	require.InDelta(t, 90.0, trades[0].ExitPrice, 1e-9)

	bars = []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		// 跳空高开越过止盈价 110，按开盘 115 成交。
		tbar("2024-01-03", 115, 118, 114, 116),
	}
	trades = sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitProfitTarget, trades[0].ExitReason)
	require.InDelta(t, 115.0, trades[0].ExitPrice, 1e-9)
}

func TestTimeStopCountsTradingDays(t *testing.T) {
	def := setup.Definition{
		Name:        "demo_time",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit:        setup.ExitConfig{Time: &setup.TimeStop{MaxHoldDays: 3}},
	}
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 100, 101, 99, 100.5),
		tbar("2024-01-04", 100, 101, 99, 101),
		tbar("2024-01-05", 100, 101, 99, 102),
		tbar("2024-01-08", 100, 101, 99, 103),
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitTimeStop, trades[0].ExitReason)
	require.Equal(t, 3, trades[0].HoldDays)
	require.True(t, trades[0].ExitDate.Equal(market.MustParseDate("2024-01-05")))
	require.InDelta(t, 102.0, trades[0].ExitPrice, 1e-9)
}

func TestEndOfDataClosesOpenPosition(t *testing.T) {
	def := fixedDef(0.50, 0.50)
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 100, 102, 99, 101),
		tbar("2024-01-04", 101, 103, 100, 102),
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitEndOfData, trades[0].ExitReason)
	require.Equal(t, StateClosed, trades[0].State)
	require.InDelta(t, 102.0, trades[0].ExitPrice, 1e-9)
	require.Equal(t, 2, trades[0].HoldDays)
}

func TestAtMostOneOpenTradePerAssetSetup(t *testing.T) {
	def := setup.Definition{
		Name:        "demo_time",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit:        setup.ExitConfig{Time: &setup.TimeStop{MaxHoldDays: 2}},
	}
	days := []string{
		"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05",
		"2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11",
	}
	bars := make([]market.DailyBar, 0, len(days))
	cands := make([]Candidate, 0, 5)
	for i, d := range days {
		bars = append(bars, tbar(d, 100, 101, 99, 100))
		if i < 5 {
			cands = append(cands, cand(d, 100))
		}
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, cands)
	require.NotEmpty(t, trades)
	for i := 1; i < len(trades); i++ {
		require.False(t, trades[i].EntryDate.Before(trades[i-1].ExitDate),
			"第 %d 笔在上一笔离场前入场", i)
	}
}

func TestTrailingRatchetLocksInGains(t *testing.T) {
	def := setup.Definition{
		Name:        "demo_trail",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit: setup.ExitConfig{
			Trailing: &setup.TrailingStop{
				InitialStopPct:  0.10,
				ProfitTargetPct: 0.08,
				TrailTriggerPct: 0.03,
				LockInFraction:  0.5,
			},
		},
	}
	// 跟踪距离 = 0.10 × (1-0.5) = 5%。
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 100, 104, 99, 103),  // 浮盈 4% ≥ 3%，止损抬到 104×0.95=98.8
		tbar("2024-01-04", 103, 110, 102, 109), // 浮盈 10%，止损抬到 110×0.95=104.5
		tbar("2024-01-05", 108, 109, 104, 105), // 最低 104 触发跟踪止损
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitTrailingStop, trades[0].ExitReason)
	require.InDelta(t, 104.5, trades[0].ExitPrice, 1e-9)
}

func TestTrailingStopNeverRetreats(t *testing.T) {
	def := setup.Definition{
		Name:        "demo_trail",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit: setup.ExitConfig{
			Trailing: &setup.TrailingStop{
				InitialStopPct:  0.10,
				ProfitTargetPct: 0.08,
				TrailTriggerPct: 0.03,
				LockInFraction:  0.5,
			},
		},
	}
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 100, 104, 99, 103),    // 止损抬到 98.8
		tbar("2024-01-04", 103, 103.5, 99, 99.5), // 回落但未触发，止损保持 98.8
		tbar("2024-01-05", 99, 100, 97, 98),      // 触发跟踪止损 98.8
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitTrailingStop, trades[0].ExitReason)
	require.InDelta(t, 98.8, trades[0].ExitPrice, 1e-9)
}

func TestTrailingBreakevenFloor(t *testing.T) {
	def := setup.Definition{
		Name:        "demo_trail",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit: setup.ExitConfig{
			Trailing: &setup.TrailingStop{
				InitialStopPct:  0.15,
				ProfitTargetPct: 0.10,
				TrailTriggerPct: 0.05,
				LockInFraction:  0.2,
			},
		},
	}
	// 跟踪距离 12% 大于 profit_target 10%：111×0.88=97.68 低于入场价，
	// 保本下限把止损抬到 100。
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 100, 111, 99.5, 110),
		tbar("2024-01-04", 109, 110, 99, 99.5),
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitTrailingStop, trades[0].ExitReason)
	require.InDelta(t, 100.0, trades[0].ExitPrice, 1e-9)
	require.InDelta(t, 0.0, trades[0].ReturnPct, 1e-9)
}

func TestNextOpenEntryTiming(t *testing.T) {
	def := fixedDef(0.05, 0.10)
	def.EntryTiming = setup.EntryTimingNextOpen
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 102, 103, 101, 102.5),
		tbar("2024-01-04", 102, 113, 101, 112),
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.True(t, trades[0].SignalDate.Equal(market.MustParseDate("2024-01-02")))
	require.True(t, trades[0].EntryDate.Equal(market.MustParseDate("2024-01-03")))
	require.InDelta(t, 102.0, trades[0].EntryPrice, 1e-9)
	// 止盈相对入场价 102 计算：102×1.10=112.2。
	require.Equal(t, ExitProfitTarget, trades[0].ExitReason)
	require.InDelta(t, 112.2, trades[0].ExitPrice, 1e-9)
}

func TestNextOpenSignalOnLastBarNeverFills(t *testing.T) {
	def := fixedDef(0.05, 0.10)
	def.EntryTiming = setup.EntryTimingNextOpen
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 100, 101, 99, 100),
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-03", 100)})
	require.Empty(t, trades)
}

func TestTradeStateMachineTransitions(t *testing.T) {
	def := fixedDef(0.05, 0.10)
	def.EntryTiming = setup.EntryTimingNextOpen
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}

	// 候选先以 PENDING_ENTRY 骨架排队，成交时转 OPEN。
	skel := newTrade(def, cand("2024-01-02", 100))
	require.Equal(t, StatePendingEntry, skel.State)

	pos, gap := sim.open(def, skel, 101, market.MustParseDate("2024-01-03"), 0)
	require.Nil(t, gap)
	require.Equal(t, StateOpen, pos.trade.State)
	require.InDelta(t, 101.0, pos.trade.EntryPrice, 1e-9)

	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 101, 102, 100, 101),
		tbar("2024-01-04", 105, 113, 104, 112),
	}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-02", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, StateClosed, trades[0].State)
	require.Equal(t, ExitProfitTarget, trades[0].ExitReason)
}

func TestATRStopDerivesLevelsFromEntryATR(t *testing.T) {
	def := setup.Definition{
		Name:        "demo_atr",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit: setup.ExitConfig{
			ATR: &setup.ATRStop{ATRMult: 2, TargetRMult: 2},
		},
	}
	// 恒定波幅 2 的序列使 ATR 收敛为 2：止损 100-4=96，止盈 100+8=108。
	days := []string{
		"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08",
		"2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12", "2024-01-15",
		"2024-01-16", "2024-01-17", "2024-01-18", "2024-01-19", "2024-01-22",
		"2024-01-23", "2024-01-24", "2024-01-25", "2024-01-26", "2024-01-29",
	}
	bars := make([]market.DailyBar, 0, len(days)+1)
	for _, d := range days {
		bars = append(bars, tbar(d, 100, 101, 99, 100))
	}
	bars = append(bars, tbar("2024-01-30", 99, 100, 95.5, 96.5))

	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-29", 100)})
	require.Len(t, trades, 1)
	require.Equal(t, ExitStopLoss, trades[0].ExitReason)
	require.InDelta(t, 96.0, trades[0].ExitPrice, 1e-9)
}

func TestATRStopSkipsCandidateWithoutWarmup(t *testing.T) {
	def := setup.Definition{
		Name:        "demo_atr",
		Category:    "equity",
		EntryTiming: setup.EntryTimingSignalClose,
		Exit: setup.ExitConfig{
			ATR: &setup.ATRStop{ATRMult: 2, TargetRMult: 2},
		},
	}
	bars := []market.DailyBar{
		tbar("2024-01-02", 100, 101, 99, 100),
		tbar("2024-01-03", 100, 101, 99, 100),
		tbar("2024-01-04", 100, 101, 99, 100),
	}
	sim := &Simulator{TieBreak: config.TieBreakStopFirst}
	trades := sim.SimulateAsset(def, bars, []Candidate{cand("2024-01-03", 100)})
	require.Empty(t, trades)
}
