package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/history"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
)

// Scanner 逐日评估入场条件。只有同一天既有日线又有特征快照才参与
// 评估，快照缺失视为条件不满足而非错误。扫描器本身无状态，
// 同一份输入重复扫描得到完全相同的候选序列。
type Scanner struct {
	Provider history.Provider
	// MinBars 是信号日回看窗口内要求的最少日线根数，不足时该日按
	// 数据缺口跳过。
	MinBars int
}

// Scan 在 [start, end] 区间内为单个资产产出候选入场，按日期升序，
// 每个交易日至多一个。bars 可以包含区间之前的暖机数据。
func (s *Scanner) Scan(ctx context.Context, def setup.Definition, assetID string, bars []market.DailyBar, start, end time.Time) ([]Candidate, error) {
	var out []Candidate
	for i, b := range bars {
		if i+1 < s.MinBars {
			continue
		}
		day := market.Day(b.Date)
		if day.Before(start) || day.After(end) {
			continue
		}
		snap, ok, err := s.Provider.Snapshot(ctx, assetID, day)
		if err != nil {
			return nil, fmt.Errorf("读取 %s %s 快照失败: %w", assetID, market.FormatDate(day), err)
		}
		if !ok {
			continue
		}
		if !def.EntryMatches(snap) {
			continue
		}
		out = append(out, Candidate{AssetID: assetID, Date: day, Close: b.Close})
	}
	return out, nil
}
