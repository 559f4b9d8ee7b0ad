package market

import "time"

// FeatureSnapshot 是某资产在某交易日收盘后的指标截面。
// Fields 只允许包含截至 Date 当日可知的数据；布尔型标志以 0/1 表示。
type FeatureSnapshot struct {
	AssetID string             `json:"asset_id"`
	Date    time.Time          `json:"date"`
	Fields  map[string]float64 `json:"fields"`
}

// Field 按名字取指标值，不存在时 ok 为 false。
func (s FeatureSnapshot) Field(name string) (float64, bool) {
	if s.Fields == nil {
		return 0, false
	}
	v, ok := s.Fields[name]
	return v, ok
}

func (s FeatureSnapshot) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	return names
}
