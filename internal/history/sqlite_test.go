package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func bar(assetID, date string, o, h, l, c, v float64) market.DailyBar {
	return market.DailyBar{
		AssetID: assetID,
		Date:    market.MustParseDate(date),
		Open:    o, High: h, Low: l, Close: c,
		Volume: v,
	}
}

func TestSQLiteStoreBarsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 乱序写入，读取必须按日期升序。
	n, err := store.InsertBars(ctx, []market.DailyBar{
		bar("AAPL", "2024-03-05", 11, 12, 10, 11.5, 1000),
		bar("AAPL", "2024-03-01", 10, 11, 9, 10.5, 900),
		bar("AAPL", "2024-03-04", 10.5, 11.5, 10, 11, 800),
		bar("MSFT", "2024-03-01", 40, 41, 39, 40.5, 500),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	bars, err := store.Bars(ctx, "AAPL", market.MustParseDate("2024-03-01"), market.MustParseDate("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, market.MustParseDate("2024-03-01"), bars[0].Date)
	assert.Equal(t, market.MustParseDate("2024-03-04"), bars[1].Date)
	assert.Equal(t, market.MustParseDate("2024-03-05"), bars[2].Date)
	assert.InDelta(t, 10.5, bars[0].Close, 1e-12)

	// 同 (asset,date) 重复写入应覆盖而不是翻倍。
	_, err = store.InsertBars(ctx, []market.DailyBar{
		bar("AAPL", "2024-03-01", 10, 11, 9, 10.8, 950),
	})
	require.NoError(t, err)
	bars, err = store.Bars(ctx, "AAPL", market.MustParseDate("2024-03-01"), market.MustParseDate("2024-03-01"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 10.8, bars[0].Close, 1e-12)
}

func TestSQLiteStoreSnapshotAbsent(t *testing.T) {
	store := newTestStore(t)

	snap, ok, err := store.Snapshot(context.Background(), "AAPL", market.MustParseDate("2024-03-01"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, snap.Fields)
}

func TestSQLiteStoreSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.InsertSnapshots(ctx, []market.FeatureSnapshot{{
		AssetID: "AAPL",
		Date:    market.MustParseDate("2024-03-01"),
		Fields: map[string]float64{
			"rsi_14":           28.4,
			"sma_200_dist_pct": 0.012,
			"new_20d_high":     0,
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, ok, err := store.Snapshot(ctx, "AAPL", market.MustParseDate("2024-03-01"))
	require.NoError(t, err)
	require.True(t, ok)
	v, found := snap.Field("rsi_14")
	require.True(t, found)
	assert.InDelta(t, 28.4, v, 1e-12)
	_, found = snap.Field("atr_14_pct")
	assert.False(t, found)
}

func TestSQLiteStoreAssetsAndCoverage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertAssets(ctx, []market.Asset{
		{ID: "MSFT", Symbol: "MSFT", AssetClass: "Equity"},
		{ID: "AAPL", Symbol: "AAPL", AssetClass: "equity"},
	})
	require.NoError(t, err)

	assets, err := store.Assets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "AAPL", assets[0].ID)
	assert.Equal(t, "equity", assets[0].AssetClass)

	_, err = store.InsertBars(ctx, []market.DailyBar{
		bar("AAPL", "2024-03-01", 10, 11, 9, 10.5, 900),
		bar("AAPL", "2024-03-04", 10.5, 11.5, 10, 11, 800),
	})
	require.NoError(t, err)

	cov, err := store.Coverage(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cov.Bars)
	assert.Equal(t, market.DayMillis(market.MustParseDate("2024-03-01")), cov.MinDate)
	assert.Equal(t, market.DayMillis(market.MustParseDate("2024-03-04")), cov.MaxDate)
}
