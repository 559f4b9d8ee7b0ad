package setup

import (
	"fmt"
	"strings"
)

// ExitConfig 组合退出策略。四个变体均可选，但至少要配置一个；
// 多个变体同时存在时先触发者生效（同日优先级由模拟器固定）。
type ExitConfig struct {
	Fixed    *FixedStopTarget `mapstructure:"fixed" yaml:"fixed,omitempty"`
	ATR      *ATRStop         `mapstructure:"atr" yaml:"atr,omitempty"`
	Trailing *TrailingStop    `mapstructure:"trailing" yaml:"trailing,omitempty"`
	Time     *TimeStop        `mapstructure:"time" yaml:"time,omitempty"`
}

// FixedStopTarget 以入场价的固定百分比设置止损/止盈。
type FixedStopTarget struct {
	StopPct   float64 `mapstructure:"stop_pct" yaml:"stop_pct"`
	TargetPct float64 `mapstructure:"target_pct" yaml:"target_pct"`
}

// ATRStop 以入场日 ATR 的倍数设置止损，目标价按 R 倍数推导。
type ATRStop struct {
	ATRMult     float64 `mapstructure:"atr_mult" yaml:"atr_mult"`
	TargetRMult float64 `mapstructure:"target_r_mult" yaml:"target_r_mult"`
}

// TrailingStop 单调棘轮：浮盈超过 trail_trigger_pct 后止损跟随最高价，
// 跟踪距离为 initial_stop_pct 按 lock_in_fraction 收窄；浮盈达到
// profit_target_pct 后止损至少抬到保本。
type TrailingStop struct {
	InitialStopPct  float64 `mapstructure:"initial_stop_pct" yaml:"initial_stop_pct"`
	ProfitTargetPct float64 `mapstructure:"profit_target_pct" yaml:"profit_target_pct"`
	TrailTriggerPct float64 `mapstructure:"trail_trigger_pct" yaml:"trail_trigger_pct"`
	LockInFraction  float64 `mapstructure:"lock_in_fraction" yaml:"lock_in_fraction"`
}

// TimeStop 按持仓天数强制离场。
type TimeStop struct {
	MaxHoldDays int `mapstructure:"max_hold_days" yaml:"max_hold_days"`
}

func (e ExitConfig) clone() ExitConfig {
	out := ExitConfig{}
	if e.Fixed != nil {
		v := *e.Fixed
		out.Fixed = &v
	}
	if e.ATR != nil {
		v := *e.ATR
		out.ATR = &v
	}
	if e.Trailing != nil {
		v := *e.Trailing
		out.Trailing = &v
	}
	if e.Time != nil {
		v := *e.Time
		out.Time = &v
	}
	return out
}

// Empty 表示没有任何变体被配置。
func (e ExitConfig) Empty() bool {
	return e.Fixed == nil && e.ATR == nil && e.Trailing == nil && e.Time == nil
}

// Variants 返回已配置变体的名字，固定顺序，用于日志与报告。
func (e ExitConfig) Variants() []string {
	var out []string
	if e.Fixed != nil {
		out = append(out, "fixed")
	}
	if e.ATR != nil {
		out = append(out, "atr")
	}
	if e.Trailing != nil {
		out = append(out, "trailing")
	}
	if e.Time != nil {
		out = append(out, "time")
	}
	return out
}

func (e ExitConfig) String() string {
	if e.Empty() {
		return "none"
	}
	return strings.Join(e.Variants(), "+")
}

// knobNames 返回当前已配置变体暴露的可覆盖参数名。
func (e ExitConfig) knobNames() []string {
	var out []string
	if e.Fixed != nil {
		out = append(out, "stop_pct", "target_pct")
	}
	if e.ATR != nil {
		out = append(out, "atr_mult", "target_r_mult")
	}
	if e.Trailing != nil {
		out = append(out, "initial_stop_pct", "profit_target_pct", "trail_trigger_pct", "lock_in_fraction")
	}
	if e.Time != nil {
		out = append(out, "max_hold_days")
	}
	return out
}

// applyOverride 把退出参数写入对应变体；handled=false 表示参数名不属于退出配置。
func (e *ExitConfig) applyOverride(key string, value float64) (bool, error) {
	switch key {
	case "stop_pct":
		if e.Fixed == nil {
			return false, fmt.Errorf("未配置 fixed 退出，无法覆盖 %s", key)
		}
		e.Fixed.StopPct = value
	case "target_pct":
		if e.Fixed == nil {
			return false, fmt.Errorf("未配置 fixed 退出，无法覆盖 %s", key)
		}
		e.Fixed.TargetPct = value
	case "atr_mult":
		if e.ATR == nil {
			return false, fmt.Errorf("未配置 atr 退出，无法覆盖 %s", key)
		}
		e.ATR.ATRMult = value
	case "target_r_mult":
		if e.ATR == nil {
			return false, fmt.Errorf("未配置 atr 退出，无法覆盖 %s", key)
		}
		e.ATR.TargetRMult = value
	case "initial_stop_pct":
		if e.Trailing == nil {
			return false, fmt.Errorf("未配置 trailing 退出，无法覆盖 %s", key)
		}
		e.Trailing.InitialStopPct = value
	case "profit_target_pct":
		if e.Trailing == nil {
			return false, fmt.Errorf("未配置 trailing 退出，无法覆盖 %s", key)
		}
		e.Trailing.ProfitTargetPct = value
	case "trail_trigger_pct":
		if e.Trailing == nil {
			return false, fmt.Errorf("未配置 trailing 退出，无法覆盖 %s", key)
		}
		e.Trailing.TrailTriggerPct = value
	case "lock_in_fraction":
		if e.Trailing == nil {
			return false, fmt.Errorf("未配置 trailing 退出，无法覆盖 %s", key)
		}
		e.Trailing.LockInFraction = value
	case "max_hold_days":
		if e.Time == nil {
			return false, fmt.Errorf("未配置 time 退出，无法覆盖 %s", key)
		}
		e.Time.MaxHoldDays = int(value)
	default:
		return false, nil
	}
	return true, nil
}

func (e ExitConfig) validate() error {
	if e.Empty() {
		return fmt.Errorf("exit_policy 至少需要一个变体")
	}
	if f := e.Fixed; f != nil {
		if f.StopPct <= 0 || f.StopPct >= 1 {
			return fmt.Errorf("fixed.stop_pct 必须在 (0,1)")
		}
		if f.TargetPct <= 0 {
			return fmt.Errorf("fixed.target_pct 必须 > 0")
		}
	}
	if a := e.ATR; a != nil {
		if a.ATRMult <= 0 {
			return fmt.Errorf("atr.atr_mult 必须 > 0")
		}
		if a.TargetRMult <= 0 {
			return fmt.Errorf("atr.target_r_mult 必须 > 0")
		}
	}
	if tr := e.Trailing; tr != nil {
		if tr.InitialStopPct <= 0 || tr.InitialStopPct >= 1 {
			return fmt.Errorf("trailing.initial_stop_pct 必须在 (0,1)")
		}
		if tr.ProfitTargetPct <= 0 {
			return fmt.Errorf("trailing.profit_target_pct 必须 > 0")
		}
		if tr.TrailTriggerPct < 0 {
			return fmt.Errorf("trailing.trail_trigger_pct 必须 >= 0")
		}
		if tr.TrailTriggerPct > tr.ProfitTargetPct {
			return fmt.Errorf("trailing.trail_trigger_pct 不能大于 profit_target_pct")
		}
		if tr.LockInFraction < 0 || tr.LockInFraction > 1 {
			return fmt.Errorf("trailing.lock_in_fraction 必须在 [0,1]")
		}
	}
	if ts := e.Time; ts != nil {
		if ts.MaxHoldDays < 1 {
			return fmt.Errorf("time.max_hold_days 必须 >= 1")
		}
	}
	return nil
}
