package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/history"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
	"github.com/eli-nuss/stratos-brain-sub001/internal/universe"
)

// RunSpec 描述一次回测：策略、标的池、区间和可选参数覆盖。
// RunID 留空时由 Engine 生成，异步提交方可预分配以便先落 pending 行。
type RunSpec struct {
	RunID    string             `json:"-"`
	Setup    string             `json:"setup"`
	Universe string             `json:"universe"`
	Start    time.Time          `json:"start"`
	End      time.Time          `json:"end"`
	Params   map[string]float64 `json:"params,omitempty"`
	TieBreak string             `json:"tie_break,omitempty"`
}

func (spec RunSpec) validate() error {
	if spec.Setup == "" {
		return fmt.Errorf("缺少 setup")
	}
	if spec.Universe == "" {
		return fmt.Errorf("缺少 universe")
	}
	if spec.Start.IsZero() || spec.End.IsZero() {
		return fmt.Errorf("缺少回测区间")
	}
	switch spec.TieBreak {
	case "", config.TieBreakStopFirst, config.TieBreakTargetFirst:
	default:
		return fmt.Errorf("tie_break %q 非法", spec.TieBreak)
	}
	return nil
}

// Engine 把标的池解析、信号扫描、持仓模拟和指标汇总串成一次完整回测。
// Engine 自身只读，天然可被多个 goroutine 共享；每次 Run 的可变状态
// 都在栈上或新建实例里。
type Engine struct {
	Registry *setup.Registry
	Resolver *universe.Resolver
	Provider history.Provider
	Backtest config.BacktestConfig
	Scoring  config.ScoringConfig
	MinBars  int
}

// Run 执行一次回测。零成交是正常结果；数据访问在重试后仍失败才返回错误。
func (e *Engine) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("回测参数非法: %w", err)
	}
	start, end := market.OrderRange(spec.Start, spec.End)

	def, err := e.Registry.WithOverrides(spec.Setup, spec.Params)
	if err != nil {
		return nil, err
	}
	if def.EntryTiming == "" {
		def.EntryTiming = e.Backtest.EntryTiming
	}
	if def.EntryTiming == "" {
		def.EntryTiming = setup.EntryTimingSignalClose
	}
	tieBreak := e.Backtest.TieBreak
	if spec.TieBreak != "" {
		tieBreak = spec.TieBreak
	}
	runID := spec.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger.Infof("回测开始 run=%s setup=%s universe=%s range=%s..%s entry_timing=%s tie_break=%s friction=%.4f",
		runID, def.Name, spec.Universe, market.FormatDate(start), market.FormatDate(end),
		def.EntryTiming, tieBreak, e.Backtest.FrictionRate)

	assets, err := e.Resolver.Resolve(ctx, spec.Universe, start)
	if err != nil {
		return nil, err
	}
	symbols := e.symbolIndex(ctx)

	scanner := &Scanner{Provider: e.Provider, MinBars: e.MinBars}
	sim := &Simulator{Friction: e.Backtest.FrictionRate, TieBreak: tieBreak}
	warmStart := start.AddDate(0, 0, -e.Backtest.WarmupDays)

	var (
		trades  []Trade
		skipped []SkippedAsset
	)
	for _, assetID := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := e.Provider.Bars(ctx, assetID, warmStart, end)
		if err != nil && !errors.Is(err, history.ErrNoData) {
			return nil, fmt.Errorf("读取 %s 日线失败: %w", assetID, err)
		}
		if len(bars) < e.MinBars {
			gap := newGap(assetID, time.Time{}, "历史 %d 根不足 %d", len(bars), e.MinBars)
			logger.Warnf("%v，跳过", gap)
			skipped = append(skipped, SkippedAsset{AssetID: assetID, Reason: gap.Reason})
			continue
		}
		cands, err := scanner.Scan(ctx, def, assetID, bars, start, end)
		if err != nil {
			return nil, err
		}
		trades = append(trades, sim.SimulateAsset(def, bars, cands)...)
	}
	for i := range trades {
		if sym, ok := symbols[trades[i].AssetID]; ok && sym != "" {
			trades[i].Symbol = sym
		} else {
			trades[i].Symbol = trades[i].AssetID
		}
	}
	sortTrades(trades)

	res := &Result{
		RunID:        runID,
		SetupName:    def.Name,
		Universe:     spec.Universe,
		Range:        DateRange{Start: start, End: end},
		Params:       spec.Params,
		EntryTiming:  def.EntryTiming,
		TieBreak:     tieBreak,
		FrictionRate: e.Backtest.FrictionRate,
		Trades:       trades,
		Metrics:      ComputeMetrics(trades, e.Scoring),
		Skipped:      skipped,
		CreatedAt:    time.Now().UTC(),
	}
	logger.Infof("回测完成 run=%s trades=%d win_rate=%.2f pf=%.2f score=%.4f skipped=%d",
		runID, res.Metrics.TotalTrades, res.Metrics.WinRate, res.Metrics.ProfitFactor,
		res.Metrics.ReliabilityScore, len(skipped))
	return res, nil
}

// symbolIndex 读一次资产元数据建立 asset_id → symbol 映射。
// 元数据缺失不影响回测本身，查不到时交易沿用 asset_id 作为 symbol。
func (e *Engine) symbolIndex(ctx context.Context) map[string]string {
	list, err := e.Provider.Assets(ctx)
	if err != nil {
		logger.Warnf("读取资产元数据失败，交易将以 asset_id 充当 symbol: %v", err)
		return nil
	}
	out := make(map[string]string, len(list))
	for _, a := range list {
		out[a.ID] = a.Symbol
	}
	return out
}

// sortTrades 给出确定性的交易顺序：入场日、资产、信号日。
func sortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].EntryDate.Equal(trades[j].EntryDate) {
			return trades[i].EntryDate.Before(trades[j].EntryDate)
		}
		if trades[i].AssetID != trades[j].AssetID {
			return trades[i].AssetID < trades[j].AssetID
		}
		return trades[i].SignalDate.Before(trades[j].SignalDate)
	})
}
