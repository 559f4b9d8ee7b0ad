package market

import "time"

type Asset struct {
	ID         string `json:"asset_id"`
	Symbol     string `json:"symbol"`
	AssetClass string `json:"asset_class"`
}

type DailyBar struct {
	AssetID string    `json:"asset_id"`
	Date    time.Time `json:"date"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
}

// Turnover 返回当日成交额（close*volume），用于按流动性排序。
func (b DailyBar) Turnover() float64 {
	return b.Close * b.Volume
}
