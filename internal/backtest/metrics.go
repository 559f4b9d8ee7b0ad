package backtest

import (
	"fmt"

	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
)

// DegenerateMetricError 记录某个指标因输入退化而被哨兵值替代。
// 它不会令计算失败，只随指标一起返回供报告展示。
type DegenerateMetricError struct {
	Metric   string
	Detail   string
	Sentinel float64
}

func (e *DegenerateMetricError) Error() string {
	return fmt.Sprintf("%s 退化（%s），使用哨兵值 %g", e.Metric, e.Detail, e.Sentinel)
}

// Metrics 是一次回测结果的汇总统计。
type Metrics struct {
	TotalTrades      int            `json:"total_trades"`
	Wins             int            `json:"wins"`
	Losses           int            `json:"losses"`
	WinRate          float64        `json:"win_rate"`
	ProfitFactor     float64        `json:"profit_factor"`
	AvgReturnPct     float64        `json:"avg_return_pct"`
	AvgHoldDays      float64        `json:"avg_hold_days"`
	ExitReasons      map[string]int `json:"exit_reasons"`
	ReliabilityScore float64        `json:"reliability_score"`
	Notes            []string       `json:"notes,omitempty"`
}

// ComputeMetrics 汇总已平仓交易。收益为 0 的交易不计入胜负，
// 也不进入盈亏比的分子分母。
func ComputeMetrics(trades []Trade, sc config.ScoringConfig) Metrics {
	m := Metrics{ExitReasons: make(map[string]int)}
	m.TotalTrades = len(trades)
	if m.TotalTrades == 0 {
		return m
	}
	var grossWin, grossLoss, sumReturn float64
	var sumHold int
	for _, t := range trades {
		m.ExitReasons[string(t.ExitReason)]++
		sumReturn += t.ReturnPct
		sumHold += t.HoldDays
		switch {
		case t.ReturnPct > 0:
			m.Wins++
			grossWin += t.ReturnPct
		case t.ReturnPct < 0:
			m.Losses++
			grossLoss += -t.ReturnPct
		}
	}
	total := float64(m.TotalTrades)
	m.WinRate = float64(m.Wins) / total
	m.AvgReturnPct = sumReturn / total
	m.AvgHoldDays = float64(sumHold) / total

	pf, degen := profitFactor(grossWin, grossLoss, sc.ProfitFactorCap)
	m.ProfitFactor = pf
	if degen != nil {
		m.Notes = append(m.Notes, degen.Error())
	}
	m.ReliabilityScore = reliabilityScore(m.TotalTrades, m.WinRate, pf, sc)
	return m
}

// profitFactor 返回盈亏比。无亏损交易时取配置上限，无盈利交易时取 0。
func profitFactor(grossWin, grossLoss, pfCap float64) (float64, *DegenerateMetricError) {
	switch {
	case grossWin <= 0:
		return 0, &DegenerateMetricError{Metric: "profit_factor", Detail: "无盈利交易", Sentinel: 0}
	case grossLoss <= 0:
		return pfCap, &DegenerateMetricError{Metric: "profit_factor", Detail: "无亏损交易", Sentinel: pfCap}
	}
	pf := grossWin / grossLoss
	if pf > pfCap {
		return pfCap, &DegenerateMetricError{Metric: "profit_factor", Detail: fmt.Sprintf("原始值 %.2f 超出上限", pf), Sentinel: pfCap}
	}
	return pf, nil
}

// reliabilityScore 把成交笔数、胜率、盈亏比按配置权重单调混合，
// 样本低于 min_sample 时按比例降权，避免小样本的幸运结果排到前面。
func reliabilityScore(totalTrades int, winRate, pf float64, sc config.ScoringConfig) float64 {
	weightSum := sc.Weights.Sum()
	if totalTrades <= 0 || weightSum <= 0 {
		return 0
	}
	countTerm := min(1, float64(totalTrades)/float64(sc.TradeCountNorm))
	pfTerm := min(pf, sc.ProfitFactorCap) / sc.ProfitFactorCap
	score := (sc.Weights.TradeCount*countTerm + sc.Weights.WinRate*winRate + sc.Weights.ProfitFactor*pfTerm) / weightSum
	if totalTrades < sc.MinSample {
		score *= float64(totalTrades) / float64(sc.MinSample)
	}
	return score
}
