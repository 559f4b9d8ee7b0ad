package backtest

import "time"

// DateRange 是回测的闭区间。
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SkippedAsset 记录因数据缺口被整体跳过的资产。
type SkippedAsset struct {
	AssetID string `json:"asset_id"`
	Reason  string `json:"reason"`
}

// Result 是一次 (策略, 参数组合) 评估的完整产出，也是优化器排名的单元。
type Result struct {
	RunID        string             `json:"run_id"`
	SetupName    string             `json:"setup_name"`
	Universe     string             `json:"universe"`
	Range        DateRange          `json:"date_range"`
	Params       map[string]float64 `json:"params,omitempty"`
	EntryTiming  string             `json:"entry_timing"`
	TieBreak     string             `json:"tie_break"`
	FrictionRate float64            `json:"friction_rate"`
	Trades       []Trade            `json:"trades"`
	Metrics      Metrics            `json:"metrics"`
	Skipped      []SkippedAsset     `json:"skipped_assets,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}
