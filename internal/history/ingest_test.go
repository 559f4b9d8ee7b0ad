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

type stubSource struct {
	name string
	bars map[string][]market.DailyBar
	err  error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]market.DailyBar, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bars[symbol], nil
}

func newTestService(t *testing.T, src BarSource) (*Service, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	svc, err := NewService(ServiceConfig{
		Store:         store,
		Sources:       map[string]BarSource{src.Name(): src},
		DefaultSource: src.Name(),
		RatePerSec:    1000,
		Burst:         100,
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	return svc, store
}

func TestRunFetchInsertsBars(t *testing.T) {
	src := &stubSource{
		name: "stub",
		bars: map[string][]market.DailyBar{
			"AAPL": {
				bar("", "2024-03-01", 10, 11, 9, 10.5, 900),
				bar("", "2024-03-04", 10.5, 11.5, 10, 11, 800),
			},
		},
	}
	svc, store := newTestService(t, src)

	job, err := svc.RunFetch(context.Background(), FetchParams{
		AssetID: "AAPL",
		Start:   market.MustParseDate("2024-03-01"),
		End:     market.MustParseDate("2024-03-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, 2, job.Inserted)
	assert.Equal(t, int64(2), job.Coverage.Bars)

	bars, err := store.Bars(context.Background(), "AAPL",
		market.MustParseDate("2024-03-01"), market.MustParseDate("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	// 源里未填 asset_id，由任务补齐。
	assert.Equal(t, "AAPL", bars[0].AssetID)
}

func TestRunFetchSourceFailure(t *testing.T) {
	src := &stubSource{name: "stub", err: errors.New("remote down")}
	svc, _ := newTestService(t, src)

	job, err := svc.RunFetch(context.Background(), FetchParams{
		AssetID: "AAPL",
		Start:   market.MustParseDate("2024-03-01"),
		End:     market.MustParseDate("2024-03-31"),
	})
	require.Error(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Contains(t, job.Message, "remote down")
}

func TestSubmitFetchUnknownSource(t *testing.T) {
	src := &stubSource{name: "stub"}
	svc, _ := newTestService(t, src)

	_, err := svc.SubmitFetch(FetchParams{
		AssetID: "AAPL",
		Start:   market.MustParseDate("2024-03-01"),
		End:     market.MustParseDate("2024-03-31"),
		Source:  "nope",
	})
	require.Error(t, err)
}

func TestFetchAllToleratesPartialFailure(t *testing.T) {
	good := &stubSource{
		name: "stub",
		bars: map[string][]market.DailyBar{
			"AAPL": {bar("", "2024-03-01", 10, 11, 9, 10.5, 900)},
			// MSFT 无数据，任务完成但带警告。
		},
	}
	svc, _ := newTestService(t, good)

	jobs := svc.FetchAll(context.Background(), []FetchParams{
		{AssetID: "AAPL", Start: market.MustParseDate("2024-03-01"), End: market.MustParseDate("2024-03-31")},
		{AssetID: "MSFT", Start: market.MustParseDate("2024-03-01"), End: market.MustParseDate("2024-03-31")},
	})
	require.Len(t, jobs, 2)
	assert.Equal(t, JobStatusDone, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Inserted)
	assert.Equal(t, JobStatusDone, jobs[1].Status)
	assert.Equal(t, 0, jobs[1].Inserted)
	assert.NotEmpty(t, jobs[1].Warnings)
}
