package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore 与 SQLiteStore 等价，用于接入生产侧的行情库。
// 写入统一走 pgx.Batch，读取按日期升序返回。
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Provider = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn 不能为空")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres failed: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			asset_id    TEXT PRIMARY KEY,
			symbol      TEXT NOT NULL,
			asset_class TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bars (
			asset_id TEXT NOT NULL,
			date     BIGINT NOT NULL,
			open     DOUBLE PRECISION NOT NULL,
			high     DOUBLE PRECISION NOT NULL,
			low      DOUBLE PRECISION NOT NULL,
			close    DOUBLE PRECISION NOT NULL,
			volume   DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (asset_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_date ON bars(date)`,
		`CREATE TABLE IF NOT EXISTS features (
			asset_id TEXT NOT NULL,
			date     BIGINT NOT NULL,
			fields   JSONB NOT NULL,
			PRIMARY KEY (asset_id, date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure postgres schema failed: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertAssets(ctx context.Context, assets []market.Asset) (int, error) {
	if len(assets) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	count := 0
	for _, a := range assets {
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO assets (asset_id, symbol, asset_class)
			VALUES ($1, $2, $3)
			ON CONFLICT (asset_id) DO UPDATE SET
			    symbol=excluded.symbol,
			    asset_class=excluded.asset_class`,
			a.ID, a.Symbol, strings.ToLower(a.AssetClass))
		count++
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) InsertBars(ctx context.Context, bars []market.DailyBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	count := 0
	for _, b := range bars {
		if strings.TrimSpace(b.AssetID) == "" || b.Date.IsZero() {
			continue
		}
		batch.Queue(`
			INSERT INTO bars (asset_id, date, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (asset_id, date) DO UPDATE SET
			    open=excluded.open,
			    high=excluded.high,
			    low=excluded.low,
			    close=excluded.close,
			    volume=excluded.volume`,
			b.AssetID, market.DayMillis(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume)
		count++
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) InsertSnapshots(ctx context.Context, snaps []market.FeatureSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	count := 0
	for _, snap := range snaps {
		if strings.TrimSpace(snap.AssetID) == "" || snap.Date.IsZero() {
			continue
		}
		raw, err := json.Marshal(snap.Fields)
		if err != nil {
			return 0, err
		}
		batch.Queue(`
			INSERT INTO features (asset_id, date, fields)
			VALUES ($1, $2, $3)
			ON CONFLICT (asset_id, date) DO UPDATE SET fields=excluded.fields`,
			snap.AssetID, market.DayMillis(snap.Date), raw)
		count++
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch exec failed at %d: %w", i, err)
		}
	}
	return nil
}

func (s *PostgresStore) Bars(ctx context.Context, assetID string, start, end time.Time) ([]market.DailyBar, error) {
	if strings.TrimSpace(assetID) == "" {
		return nil, fmt.Errorf("asset_id 不能为空")
	}
	startMS, endMS := market.DayMillis(start), market.DayMillis(end)
	if endMS < startMS {
		startMS, endMS = endMS, startMS
	}
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, date, open, high, low, close, volume
		FROM bars
		WHERE asset_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC`, assetID, startMS, endMS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.DailyBar
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, bar)
	}
	return list, rows.Err()
}

func (s *PostgresStore) Snapshot(ctx context.Context, assetID string, date time.Time) (market.FeatureSnapshot, bool, error) {
	if strings.TrimSpace(assetID) == "" {
		return market.FeatureSnapshot{}, false, fmt.Errorf("asset_id 不能为空")
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT fields FROM features WHERE asset_id = $1 AND date = $2`,
		assetID, market.DayMillis(date)).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.FeatureSnapshot{}, false, nil
		}
		return market.FeatureSnapshot{}, false, err
	}
	fields := make(map[string]float64)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return market.FeatureSnapshot{}, false, fmt.Errorf("features 字段解析失败 (%s@%s): %w", assetID, market.FormatDate(date), err)
	}
	return market.FeatureSnapshot{
		AssetID: assetID,
		Date:    market.Day(date),
		Fields:  fields,
	}, true, nil
}

// Coverage 汇总单个资产的日线覆盖情况。
func (s *PostgresStore) Coverage(ctx context.Context, assetID string) (Coverage, error) {
	cov := Coverage{AssetID: assetID}
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MIN(date), 0), COALESCE(MAX(date), 0), COUNT(1)
		FROM bars WHERE asset_id = $1`, assetID).Scan(&cov.MinDate, &cov.MaxDate, &cov.Bars)
	if err != nil {
		return Coverage{}, err
	}
	return cov, nil
}

func (s *PostgresStore) Assets(ctx context.Context) ([]market.Asset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, symbol, asset_class FROM assets ORDER BY asset_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Asset
	for rows.Next() {
		var a market.Asset
		if err := rows.Scan(&a.ID, &a.Symbol, &a.AssetClass); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
