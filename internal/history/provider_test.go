package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProvider 前 failures 次调用返回错误，之后成功。
type flakyProvider struct {
	failures int
	calls    int
	err      error
	bars     []market.DailyBar
}

func (f *flakyProvider) Bars(ctx context.Context, assetID string, start, end time.Time) ([]market.DailyBar, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.bars, nil
}

func (f *flakyProvider) Snapshot(ctx context.Context, assetID string, date time.Time) (market.FeatureSnapshot, bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return market.FeatureSnapshot{}, false, f.err
	}
	return market.FeatureSnapshot{AssetID: assetID, Date: date}, true, nil
}

func (f *flakyProvider) Assets(ctx context.Context) ([]market.Asset, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return nil, nil
}

func TestRetryingRecoversFromTransientError(t *testing.T) {
	inner := &flakyProvider{
		failures: 2,
		err:      errors.New("connection reset"),
		bars:     []market.DailyBar{{AssetID: "AAPL"}},
	}
	p := NewRetrying(inner, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	bars, err := p.Bars(context.Background(), "AAPL", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("connection reset")}
	p := NewRetrying(inner, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})

	_, err := p.Bars(context.Background(), "AAPL", time.Now(), time.Now())
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingDoesNotRetryDataErrors(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: ErrInsufficientHistory}
	p := NewRetrying(inner, RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond})

	_, err := p.Bars(context.Background(), "AAPL", time.Now(), time.Now())
	require.ErrorIs(t, err, ErrInsufficientHistory)
	// 确定性结果不重试。
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingHonorsContextCancel(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("connection reset")}
	p := NewRetrying(inner, RetryPolicy{MaxAttempts: 5, Backoff: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Bars(ctx, "AAPL", time.Now(), time.Now())
	require.Error(t, err)
	assert.LessOrEqual(t, inner.calls, 2)
}
