package backtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
)

func testScoring() config.ScoringConfig {
	return config.ScoringConfig{
		MinSample:       30,
		TradeCountNorm:  100,
		ProfitFactorCap: 10,
		Weights:         config.ScoreWeights{TradeCount: 0.30, WinRate: 0.35, ProfitFactor: 0.35},
	}
}

func closedWith(ret float64, reason ExitReason, hold int) Trade {
	return Trade{State: StateClosed, ReturnPct: ret, ExitReason: reason, HoldDays: hold}
}

func TestComputeMetricsAggregates(t *testing.T) {
	trades := []Trade{
		closedWith(0.10, ExitProfitTarget, 5),
		closedWith(-0.05, ExitStopLoss, 2),
		closedWith(0.02, ExitTimeStop, 10),
		closedWith(-0.01, ExitStopLoss, 3),
		closedWith(0, ExitEndOfData, 1),
	}
	m := ComputeMetrics(trades, testScoring())

	require.Equal(t, 5, m.TotalTrades)
	require.Equal(t, 2, m.Wins)
	require.Equal(t, 2, m.Losses)
	require.InDelta(t, 0.4, m.WinRate, 1e-12)
	require.InDelta(t, 2.0, m.ProfitFactor, 1e-9)
	require.InDelta(t, 0.012, m.AvgReturnPct, 1e-12)
	require.InDelta(t, 4.2, m.AvgHoldDays, 1e-12)
	require.Equal(t, map[string]int{
		"stop_loss":     2,
		"profit_target": 1,
		"time_stop":     1,
		"end_of_data":   1,
	}, m.ExitReasons)
	require.Empty(t, m.Notes)
	require.Greater(t, m.ReliabilityScore, 0.0)
}

func TestProfitFactorSentinels(t *testing.T) {
	sc := testScoring()

	allWins := []Trade{
		closedWith(0.05, ExitProfitTarget, 3),
		closedWith(0.08, ExitProfitTarget, 4),
	}
	m := ComputeMetrics(allWins, sc)
	require.InDelta(t, sc.ProfitFactorCap, m.ProfitFactor, 1e-12)
	require.NotEmpty(t, m.Notes)

	allLosses := []Trade{
		closedWith(-0.05, ExitStopLoss, 3),
		closedWith(-0.08, ExitStopLoss, 4),
	}
	m = ComputeMetrics(allLosses, sc)
	require.Zero(t, m.ProfitFactor)
	require.NotEmpty(t, m.Notes)
}

func TestProfitFactorCapped(t *testing.T) {
	trades := []Trade{
		closedWith(10.0, ExitProfitTarget, 3),
		closedWith(-0.001, ExitStopLoss, 1),
	}
	m := ComputeMetrics(trades, testScoring())
	require.InDelta(t, 10.0, m.ProfitFactor, 1e-12)
	require.NotEmpty(t, m.Notes)
}

func TestZeroReturnTradeCountsNeitherSide(t *testing.T) {
	m := ComputeMetrics([]Trade{closedWith(0, ExitEndOfData, 2)}, testScoring())
	require.Equal(t, 1, m.TotalTrades)
	require.Zero(t, m.Wins)
	require.Zero(t, m.Losses)
	require.Zero(t, m.WinRate)
	require.Zero(t, m.ProfitFactor)
}

func TestComputeMetricsEmptyInput(t *testing.T) {
	m := ComputeMetrics(nil, testScoring())
	require.Zero(t, m.TotalTrades)
	require.Zero(t, m.ReliabilityScore)
	require.NotNil(t, m.ExitReasons)
	require.Empty(t, m.ExitReasons)
}

func TestReliabilitySmallSampleRanksBelowLargeSample(t *testing.T) {
	sc := testScoring()

	small := make([]Trade, 0, 5)
	for i := 0; i < 5; i++ {
		small = append(small, closedWith(0.05, ExitProfitTarget, 3))
	}
	big := make([]Trade, 0, 50)
	for i := 0; i < 35; i++ {
		big = append(big, closedWith(0.04, ExitProfitTarget, 3))
	}
	for i := 0; i < 15; i++ {
		big = append(big, closedWith(-0.02, ExitStopLoss, 2))
	}

	ms := ComputeMetrics(small, sc)
	mb := ComputeMetrics(big, sc)
	require.InDelta(t, 1.0, ms.WinRate, 1e-12)
	require.InDelta(t, 0.7, mb.WinRate, 1e-12)
	// 5 笔 100% 胜率不应排在 50 笔 70% 胜率之前。
	require.Less(t, ms.ReliabilityScore, mb.ReliabilityScore)
}

func TestReliabilityScoreMonotone(t *testing.T) {
	sc := testScoring()

	require.LessOrEqual(t,
		reliabilityScore(10, 0.6, 2, sc),
		reliabilityScore(40, 0.6, 2, sc))
	require.LessOrEqual(t,
		reliabilityScore(40, 0.6, 2, sc),
		reliabilityScore(200, 0.6, 2, sc))
	require.LessOrEqual(t,
		reliabilityScore(50, 0.5, 2, sc),
		reliabilityScore(50, 0.8, 2, sc))
	require.LessOrEqual(t,
		reliabilityScore(50, 0.5, 1, sc),
		reliabilityScore(50, 0.5, 5, sc))
	require.Zero(t, reliabilityScore(0, 0.5, 2, sc))
}
