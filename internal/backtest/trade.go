package backtest

import "time"

// TradeState 是持仓状态机的三个状态。
type TradeState string

const (
	StatePendingEntry TradeState = "PENDING_ENTRY"
	StateOpen         TradeState = "OPEN"
	StateClosed       TradeState = "CLOSED"
)

// ExitReason 标记平仓原因。
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitProfitTarget ExitReason = "profit_target"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTimeStop     ExitReason = "time_stop"
	ExitEndOfData    ExitReason = "end_of_data"
)

// Trade 是一笔模拟交易。OPEN 期间字段可变，CLOSED 之后不再修改。
type Trade struct {
	AssetID    string     `json:"asset_id"`
	Symbol     string     `json:"symbol"`
	SetupName  string     `json:"setup_name"`
	State      TradeState `json:"state"`
	SignalDate time.Time  `json:"signal_date"`
	EntryDate  time.Time  `json:"entry_date"`
	EntryPrice float64    `json:"entry_price"`
	ExitDate   time.Time  `json:"exit_date,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	ReturnPct  float64    `json:"return_pct"`
	HoldDays   int        `json:"hold_days"`
}

// Candidate 是扫描器产出的候选入场，每个资产每天至多一个。
type Candidate struct {
	AssetID string    `json:"asset_id"`
	Date    time.Time `json:"date"`
	Close   float64   `json:"close"`
}
