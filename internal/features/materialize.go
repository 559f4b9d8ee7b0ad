package features

import (
	"context"
	"fmt"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

// lookbackCalendarDays 把暖机所需的交易日换算成带假日余量的自然日。
const lookbackCalendarDays = 320

// Store 是物化流程依赖的最小存储面。
type Store interface {
	Assets(ctx context.Context) ([]market.Asset, error)
	Bars(ctx context.Context, assetID string, start, end time.Time) ([]market.DailyBar, error)
	Snapshot(ctx context.Context, assetID string, day time.Time) (market.FeatureSnapshot, bool, error)
	InsertSnapshots(ctx context.Context, snaps []market.FeatureSnapshot) (int, error)
}

// Materializer 把历史日线批量转换为特征快照并写回存储。
type Materializer struct {
	store Store
}

func NewMaterializer(store Store) *Materializer {
	return &Materializer{store: store}
}

// Run 为给定标的在 [start, end] 区间内物化特征快照，返回写入行数。
// assetIDs 为空时处理存储中的全部标的；历史不足的标的跳过并告警。
func (m *Materializer) Run(ctx context.Context, assetIDs []string, start, end time.Time) (int, error) {
	start, end = market.OrderRange(start, end)
	if len(assetIDs) == 0 {
		assets, err := m.store.Assets(ctx)
		if err != nil {
			return 0, fmt.Errorf("列出标的失败: %w", err)
		}
		for _, a := range assets {
			assetIDs = append(assetIDs, a.ID)
		}
	}
	total := 0
	for _, id := range assetIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := m.materializeAsset(ctx, id, start, end)
		if err != nil {
			return total, fmt.Errorf("物化 %s 特征失败: %w", id, err)
		}
		total += n
	}
	logger.Infof("特征物化完成 assets=%d rows=%d", len(assetIDs), total)
	return total, nil
}

func (m *Materializer) materializeAsset(ctx context.Context, assetID string, start, end time.Time) (int, error) {
	fetchStart := start.AddDate(0, 0, -lookbackCalendarDays)
	bars, err := m.store.Bars(ctx, assetID, fetchStart, end)
	if err != nil {
		return 0, err
	}
	if len(bars) < LookbackBars {
		logger.Warnf("资产 %s 历史不足，跳过特征计算 bars=%d need=%d", assetID, len(bars), LookbackBars)
		return 0, nil
	}
	for _, b := range bars {
		if !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close) || !finite(b.Volume) || b.Close <= 0 {
			logger.Warnf("资产 %s 在 %s 存在异常日线，跳过特征计算", assetID, market.FormatDate(b.Date))
			return 0, nil
		}
	}
	snaps := Compute(bars)
	kept := snaps[:0]
	for _, s := range snaps {
		if s.Date.Before(start) || s.Date.After(end) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return 0, nil
	}
	// 保留同日已有的外部字段，计算值覆盖同名旧值。
	for i := range kept {
		prev, ok, err := m.store.Snapshot(ctx, assetID, kept[i].Date)
		if err != nil {
			return 0, err
		}
		if !ok || len(prev.Fields) == 0 {
			continue
		}
		for name, v := range kept[i].Fields {
			prev.Fields[name] = v
		}
		kept[i].Fields = prev.Fields
	}
	return m.store.InsertSnapshots(ctx, kept)
}
