package history

import (
	"context"
	"errors"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

var (
	// ErrNoData 表示请求区间内没有任何 K 线。
	ErrNoData = errors.New("no data in range")
	// ErrInsufficientHistory 表示回看窗口内 K 线数量不足。
	ErrInsufficientHistory = errors.New("insufficient history")
)

// Provider 是引擎唯一的历史数据入口。实现必须只返回截至查询日期
// 已经存在的数据；快照缺失以 ok=false 表达，从不用零值顶替。
type Provider interface {
	// Bars 返回 [start,end] 闭区间内的日线，按日期升序。
	Bars(ctx context.Context, assetID string, start, end time.Time) ([]market.DailyBar, error)
	// Snapshot 返回某资产某日的指标截面；当日无截面时 ok=false 且无错误。
	Snapshot(ctx context.Context, assetID string, date time.Time) (market.FeatureSnapshot, bool, error)
	// Assets 返回全部已知资产，按 asset_id 升序。
	Assets(ctx context.Context) ([]market.Asset, error)
}

// RetryPolicy 描述 provider 边界的重试行为。
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Retrying 给任意 Provider 加上读重试。重试只发生在这一层，
// 模拟器内部永远看不到瞬时故障。
type Retrying struct {
	inner  Provider
	policy RetryPolicy
}

func NewRetrying(inner Provider, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	return &Retrying{inner: inner, policy: policy}
}

func (r *Retrying) Bars(ctx context.Context, assetID string, start, end time.Time) ([]market.DailyBar, error) {
	var bars []market.DailyBar
	err := r.retry(ctx, "bars", assetID, func() error {
		var err error
		bars, err = r.inner.Bars(ctx, assetID, start, end)
		return err
	})
	return bars, err
}

func (r *Retrying) Snapshot(ctx context.Context, assetID string, date time.Time) (market.FeatureSnapshot, bool, error) {
	var (
		snap market.FeatureSnapshot
		ok   bool
	)
	err := r.retry(ctx, "snapshot", assetID, func() error {
		var err error
		snap, ok, err = r.inner.Snapshot(ctx, assetID, date)
		return err
	})
	return snap, ok, err
}

func (r *Retrying) Assets(ctx context.Context) ([]market.Asset, error) {
	var assets []market.Asset
	err := r.retry(ctx, "assets", "", func() error {
		var err error
		assets, err = r.inner.Assets(ctx)
		return err
	})
	return assets, err
}

func (r *Retrying) retry(ctx context.Context, op, assetID string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		wait := r.policy.Backoff * time.Duration(attempt)
		logger.Warnf("history %s 读取失败 (asset=%s, attempt=%d/%d), %v 后重试: %v",
			op, assetID, attempt, r.policy.MaxAttempts, wait, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// retryable 区分瞬时故障与确定性结果。数据缺失类错误重试没有意义。
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNoData) || errors.Is(err, ErrInsufficientHistory) {
		return false
	}
	return true
}
