package backtest

import (
	"time"

	"github.com/markcheno/go-talib"

	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
)

const atrPeriod = 14

// position 是一笔在场持仓的运行时状态。
type position struct {
	trade    Trade
	levels   exitLevels
	holdDays int
}

// pendingEntry 记录等待次日开盘成交的 PENDING_ENTRY 交易。
type pendingEntry struct {
	trade Trade
	atr   float64
}

// Simulator 驱动持仓状态机：PENDING_ENTRY → OPEN → CLOSED。
// 同一 (资产, 策略) 至多一笔在场持仓；每根日线按固定次序检查
// 止损、止盈、跟踪更新、时间止损。Simulator 自身不携带跨次运行
// 的状态，每个参数组合各自构造实例即可完全隔离。
type Simulator struct {
	Friction float64
	TieBreak string
}

// SimulateAsset 按日回放单个资产的候选入场并产出已平仓交易。
// bars 按日期升序且可含暖机段；candidates 必须来自同一资产。
// 退出只在入场日之后的交易日评估。
func (s *Simulator) SimulateAsset(def setup.Definition, bars []market.DailyBar, candidates []Candidate) []Trade {
	if len(candidates) == 0 || len(bars) == 0 {
		return nil
	}
	var atrSeries []float64
	// talib.Atr 要求序列长度超过周期，否则内部索引越界。
	if def.Exit.ATR != nil && len(bars) > atrPeriod {
		highs := make([]float64, len(bars))
		lows := make([]float64, len(bars))
		closes := make([]float64, len(bars))
		for i, b := range bars {
			highs[i] = b.High
			lows[i] = b.Low
			closes[i] = b.Close
		}
		atrSeries = talib.Atr(highs, lows, closes, atrPeriod)
	}
	candByDay := make(map[int64]Candidate, len(candidates))
	for _, c := range candidates {
		candByDay[market.DayMillis(c.Date)] = c
	}

	var (
		closed  []Trade
		pos     *position
		pending *pendingEntry
	)
	for i, bar := range bars {
		day := market.Day(bar.Date)

		// 等待开盘的候选今天成交，入场日当天不再检查退出。
		if pending != nil {
			p, gap := s.open(def, pending.trade, bar.Open, day, pending.atr)
			pending = nil
			if gap != nil {
				logger.Debugf("跳过候选: %v", gap)
			} else {
				pos = p
			}
		} else if pos != nil {
			if t, done := s.advance(pos, bar); done {
				closed = append(closed, t)
				pos = nil
			}
		}

		// 当日离场后允许当日再入场，在场持仓则拒绝新候选。
		cand, hasCand := candByDay[market.DayMillis(day)]
		if !hasCand || pos != nil || pending != nil {
			continue
		}
		switch def.EntryTiming {
		case setup.EntryTimingNextOpen:
			if i == len(bars)-1 {
				logger.Debugf("候选 %s %s 等待开盘时数据结束，未成交", cand.AssetID, market.FormatDate(cand.Date))
				continue
			}
			pending = &pendingEntry{trade: newTrade(def, cand), atr: atrAt(atrSeries, i)}
		default:
			p, gap := s.open(def, newTrade(def, cand), cand.Close, day, atrAt(atrSeries, i))
			if gap != nil {
				logger.Debugf("跳过候选: %v", gap)
				continue
			}
			pos = p
		}
	}

	// 模拟区间结束时的在场持仓按最后一根收盘价离场。
	if pos != nil {
		last := bars[len(bars)-1]
		closed = append(closed, s.close(pos, market.Day(last.Date), last.Close, ExitEndOfData))
	}
	return closed
}

// newTrade 从候选生成 PENDING_ENTRY 状态的交易骨架。
func newTrade(def setup.Definition, c Candidate) Trade {
	return Trade{
		AssetID:    c.AssetID,
		SetupName:  def.Name,
		State:      StatePendingEntry,
		SignalDate: c.Date,
	}
}

// open 把 PENDING_ENTRY 的交易按给定入场价转为在场持仓，
// 退出价位在此一次性折算。
func (s *Simulator) open(def setup.Definition, t Trade, entryPrice float64, entryDate time.Time, atrValue float64) (*position, *DataGapError) {
	lv, err := deriveLevels(def.Exit, entryPrice, atrValue)
	if err != nil {
		return nil, newGap(t.AssetID, t.SignalDate, "%v", err)
	}
	t.State = StateOpen
	t.EntryDate = entryDate
	t.EntryPrice = entryPrice
	return &position{trade: t, levels: lv}, nil
}

// advance 在入场之后的一个交易日上推进持仓。
// 同日检查次序固定：止损对最低价、止盈对最高价、跟踪止损更新、
// 时间止损；止损与止盈同日均可触发时按 TieBreak 取舍。
func (s *Simulator) advance(p *position, bar market.DailyBar) (Trade, bool) {
	p.holdDays++
	day := market.Day(bar.Date)
	lv := &p.levels

	stopHit := lv.stop > 0 && bar.Low <= lv.stop
	targetHit := lv.target > 0 && bar.High >= lv.target
	if stopHit && targetHit && s.TieBreak == config.TieBreakTargetFirst {
		stopHit = false
	}
	if stopHit {
		price := lv.stop
		if bar.Open < price {
			// 跳空越过止损价时按开盘价成交。
			price = bar.Open
		}
		reason := ExitStopLoss
		if lv.trailed() {
			reason = ExitTrailingStop
		}
		return s.close(p, day, price, reason), true
	}
	if targetHit {
		price := lv.target
		if bar.Open > price {
			price = bar.Open
		}
		return s.close(p, day, price, ExitProfitTarget), true
	}
	lv.ratchet(p.trade.EntryPrice, bar.High)
	if lv.maxHoldDays > 0 && p.holdDays >= lv.maxHoldDays {
		return s.close(p, day, bar.Close, ExitTimeStop), true
	}
	return Trade{}, false
}

func (s *Simulator) close(p *position, day time.Time, price float64, reason ExitReason) Trade {
	t := p.trade
	t.State = StateClosed
	t.ExitDate = day
	t.ExitPrice = price
	t.ExitReason = reason
	t.HoldDays = p.holdDays
	t.ReturnPct = price/t.EntryPrice - 1 - 2*s.Friction
	return t
}

// atrAt 取某日的 ATR 值，序列缺失或仍处于 talib 零值暖机段时返回 0。
func atrAt(series []float64, idx int) float64 {
	if idx < 0 || idx >= len(series) || idx < atrPeriod {
		return 0
	}
	return series[idx]
}
