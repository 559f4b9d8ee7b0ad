package backtest

import (
	"fmt"

	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
)

// trailingState 保存跟踪止损策略在持仓期间需要的参数。
type trailingState struct {
	initialStop  float64
	profitTarget float64
	trailTrigger float64
	lockIn       float64
}

// exitLevels 是退出策略在开仓时折算出的具体价位。
// 组合策略的止损取最高价位（先触发者），止盈取最低价位。
type exitLevels struct {
	stop        float64
	initialStop float64
	target      float64
	maxHoldDays int
	trailing    *trailingState
}

// deriveLevels 把退出策略折算为入场价下的具体价位。
// ATR 策略依赖入场时点的 ATR 值，缺失时返回错误由调用方按数据缺口处理。
func deriveLevels(exit setup.ExitConfig, entry, atrValue float64) (exitLevels, error) {
	var lv exitLevels
	if entry <= 0 {
		return lv, fmt.Errorf("入场价非法: %v", entry)
	}
	raiseStop := func(price float64) {
		if price > lv.stop {
			lv.stop = price
		}
	}
	lowerTarget := func(price float64) {
		if price <= 0 {
			return
		}
		if lv.target == 0 || price < lv.target {
			lv.target = price
		}
	}

	if f := exit.Fixed; f != nil {
		raiseStop(entry * (1 - f.StopPct))
		lowerTarget(entry * (1 + f.TargetPct))
	}
	if a := exit.ATR; a != nil {
		if atrValue <= 0 {
			return lv, fmt.Errorf("ATR 不可用，无法推导止损价")
		}
		risk := a.ATRMult * atrValue
		if risk >= entry {
			return lv, fmt.Errorf("ATR 止损距离 %.4f 超过入场价", risk)
		}
		raiseStop(entry - risk)
		lowerTarget(entry + a.TargetRMult*risk)
	}
	if tr := exit.Trailing; tr != nil {
		raiseStop(entry * (1 - tr.InitialStopPct))
		lv.trailing = &trailingState{
			initialStop:  tr.InitialStopPct,
			profitTarget: tr.ProfitTargetPct,
			trailTrigger: tr.TrailTriggerPct,
			lockIn:       tr.LockInFraction,
		}
	}
	if ts := exit.Time; ts != nil {
		lv.maxHoldDays = ts.MaxHoldDays
	}
	lv.initialStop = lv.stop
	return lv, nil
}

// ratchet 依据当日最高价更新跟踪止损，只会向有利方向移动。
// 未实现涨幅达到 trail_trigger 后止损跟随最高价，跟踪距离为
// initial_stop_pct 按 lock_in 比例收窄；涨幅达到 profit_target
// 后止损不低于保本价。
func (lv *exitLevels) ratchet(entry, high float64) {
	tr := lv.trailing
	if tr == nil || entry <= 0 {
		return
	}
	gain := high/entry - 1
	if gain < tr.trailTrigger {
		return
	}
	candidate := high * (1 - tr.initialStop*(1-tr.lockIn))
	if gain >= tr.profitTarget && candidate < entry {
		candidate = entry
	}
	if candidate > lv.stop {
		lv.stop = candidate
	}
}

// trailed 判断当前止损是否已被跟踪机制抬升过。
func (lv *exitLevels) trailed() bool {
	return lv.trailing != nil && lv.stop > lv.initialStop
}
