package setup

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

// 入场时机可选值。
const (
	EntryTimingSignalClose = "signal_close"
	EntryTimingNextOpen    = "next_open"
)

// Operator 是入场条件支持的比较算子。
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNE  Operator = "ne"
)

func (op Operator) valid() bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE:
		return true
	}
	return false
}

// Condition 是 (field, op, threshold) 三元组。
// Param 为空时该阈值的覆盖参数名即 Field 名。
type Condition struct {
	Field string   `mapstructure:"field" yaml:"field"`
	Op    Operator `mapstructure:"op" yaml:"op"`
	Value float64  `mapstructure:"value" yaml:"value"`
	Param string   `mapstructure:"param" yaml:"param,omitempty"`
}

// Matches 对单个截面求值；字段缺失视为条件不成立，不是错误。
func (c Condition) Matches(snap market.FeatureSnapshot) bool {
	v, ok := snap.Field(c.Field)
	if !ok || math.IsNaN(v) {
		return false
	}
	switch c.Op {
	case OpGT:
		return v > c.Value
	case OpGTE:
		return v >= c.Value
	case OpLT:
		return v < c.Value
	case OpLTE:
		return v <= c.Value
	case OpEQ:
		return v == c.Value
	case OpNE:
		return v != c.Value
	}
	return false
}

func (c Condition) paramName() string {
	if p := strings.TrimSpace(c.Param); p != "" {
		return p
	}
	return strings.TrimSpace(c.Field)
}

// Definition 是一个完整的 setup：入场条件合取 + 退出策略。
// 注册表返回的 Definition 都是值拷贝，调用方可以安全持有。
type Definition struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
	Category    string `mapstructure:"category" yaml:"category"`
	EntryTiming string `mapstructure:"entry_timing" yaml:"entry_timing,omitempty"`

	EntryConditions []Condition `mapstructure:"entry_conditions" yaml:"entry_conditions"`
	Exit            ExitConfig  `mapstructure:"exit_policy" yaml:"exit_policy"`

	// ParamSchema 校验 overrides/grid 取值，可选。
	ParamSchema map[string]interface{} `mapstructure:"param_schema" yaml:"param_schema,omitempty"`
}

// EntryMatches 以 AND 方式求值全部入场条件。
func (d Definition) EntryMatches(snap market.FeatureSnapshot) bool {
	if len(d.EntryConditions) == 0 {
		return false
	}
	for _, cond := range d.EntryConditions {
		if !cond.Matches(snap) {
			return false
		}
	}
	return true
}

// ParamNames 返回可被覆盖的全部参数名（条件阈值 + 退出参数），排序后输出。
func (d Definition) ParamNames() []string {
	seen := make(map[string]struct{})
	for _, cond := range d.EntryConditions {
		seen[cond.paramName()] = struct{}{}
	}
	for _, name := range d.Exit.knobNames() {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// clone 深拷贝 Definition，overrides 永远作用在拷贝上。
func (d Definition) clone() Definition {
	out := d
	out.EntryConditions = append([]Condition(nil), d.EntryConditions...)
	out.Exit = d.Exit.clone()
	if d.ParamSchema != nil {
		schema := make(map[string]interface{}, len(d.ParamSchema))
		for k, v := range d.ParamSchema {
			schema[k] = v
		}
		out.ParamSchema = schema
	}
	return out
}

// applyOverride 把单个参数写入拷贝后的 Definition。
// 解析顺序：显式 param 标签 > 退出参数 > 唯一的条件 field 名。
func (d *Definition) applyOverride(key string, value float64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("override 参数名不能为空")
	}
	for i := range d.EntryConditions {
		if d.EntryConditions[i].paramName() == key {
			d.EntryConditions[i].Value = value
			return nil
		}
	}
	handled, err := d.Exit.applyOverride(key, value)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}
	return fmt.Errorf("setup %s 没有名为 %s 的参数", d.Name, key)
}

// equityOnlyFields / cryptoOnlyFields 列出只对单一资产类别有意义的字段。
// setup 的 category 与条件字段冲突属于配置错误，启动即失败。
var categoryOnlyFields = map[string]string{
	"short_interest_ratio":     "equity",
	"days_to_cover":            "equity",
	"institutional_own_pct":    "equity",
	"funding_rate":             "crypto",
	"open_interest_change_pct": "crypto",
	"premium_discount_pct":     "etf",
	"nav_spread_pct":           "etf",
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("setup 缺少 name")
	}
	if strings.TrimSpace(d.Category) == "" {
		return fmt.Errorf("setup %s 缺少 category", d.Name)
	}
	switch d.EntryTiming {
	case "", EntryTimingSignalClose, EntryTimingNextOpen:
	default:
		return fmt.Errorf("setup %s entry_timing 非法: %s", d.Name, d.EntryTiming)
	}
	if len(d.EntryConditions) == 0 {
		return fmt.Errorf("setup %s 至少需要一个入场条件", d.Name)
	}
	category := strings.ToLower(strings.TrimSpace(d.Category))
	seenParams := make(map[string]bool)
	for i, cond := range d.EntryConditions {
		if strings.TrimSpace(cond.Field) == "" {
			return fmt.Errorf("setup %s 第 %d 个条件缺少 field", d.Name, i+1)
		}
		if !cond.Op.valid() {
			return fmt.Errorf("setup %s 条件 %s 的算子非法: %s", d.Name, cond.Field, cond.Op)
		}
		if math.IsNaN(cond.Value) || math.IsInf(cond.Value, 0) {
			return fmt.Errorf("setup %s 条件 %s 阈值非法", d.Name, cond.Field)
		}
		if only, ok := categoryOnlyFields[strings.ToLower(cond.Field)]; ok && only != category {
			return fmt.Errorf("setup %s (category=%s) 使用了 %s 专属字段 %s", d.Name, d.Category, only, cond.Field)
		}
		name := cond.paramName()
		if seenParams[name] {
			return fmt.Errorf("setup %s 参数名重复: %s（用 param 显式区分）", d.Name, name)
		}
		seenParams[name] = true
	}
	for _, knob := range d.Exit.knobNames() {
		if seenParams[knob] {
			return fmt.Errorf("setup %s 参数名 %s 与退出参数冲突", d.Name, knob)
		}
	}
	if err := d.Exit.validate(); err != nil {
		return fmt.Errorf("setup %s: %w", d.Name, err)
	}
	return nil
}
