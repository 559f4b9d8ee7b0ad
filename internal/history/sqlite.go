package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"

	_ "modernc.org/sqlite"
)

// Coverage 记录单个资产的数据覆盖范围。
type Coverage struct {
	AssetID string `json:"asset_id"`
	MinDate int64  `json:"min_date"`
	MaxDate int64  `json:"max_date"`
	Bars    int64  `json:"bars"`
}

// SQLiteStore 持有日线/截面/资产三张表，是默认的历史库实现。
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Provider = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			asset_id    TEXT PRIMARY KEY,
			symbol      TEXT NOT NULL,
			asset_class TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bars (
			asset_id    TEXT NOT NULL,
			date        INTEGER NOT NULL,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (asset_id, date)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bars_date ON bars(date);`,
		`CREATE TABLE IF NOT EXISTS features (
			asset_id    TEXT NOT NULL,
			date        INTEGER NOT NULL,
			fields      TEXT NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (asset_id, date)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertAssets 批量写入资产元数据。
func (s *SQLiteStore) UpsertAssets(ctx context.Context, assets []market.Asset) (int, error) {
	if len(assets) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets (asset_id, symbol, asset_class)
		VALUES (?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
		    symbol=excluded.symbol,
		    asset_class=excluded.asset_class`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, a := range assets {
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, a.ID, a.Symbol, strings.ToLower(a.AssetClass)); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// InsertBars 批量写入日线（重复 (asset_id,date) 将被覆盖）。
func (s *SQLiteStore) InsertBars(ctx context.Context, bars []market.DailyBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (asset_id, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id, date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if strings.TrimSpace(b.AssetID) == "" || b.Date.IsZero() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, b.AssetID, market.DayMillis(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// InsertSnapshots 批量写入指标截面，字段集合存为 JSON。
func (s *SQLiteStore) InsertSnapshots(ctx context.Context, snaps []market.FeatureSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO features (asset_id, date, fields)
		VALUES (?, ?, ?)
		ON CONFLICT(asset_id, date) DO UPDATE SET fields=excluded.fields`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, snap := range snaps {
		if strings.TrimSpace(snap.AssetID) == "" || snap.Date.IsZero() {
			continue
		}
		raw, err := json.Marshal(snap.Fields)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, snap.AssetID, market.DayMillis(snap.Date), string(raw)); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStore) Bars(ctx context.Context, assetID string, start, end time.Time) ([]market.DailyBar, error) {
	if strings.TrimSpace(assetID) == "" {
		return nil, fmt.Errorf("asset_id 不能为空")
	}
	startMS, endMS := market.DayMillis(start), market.DayMillis(end)
	if endMS < startMS {
		startMS, endMS = endMS, startMS
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, date, open, high, low, close, volume
		FROM bars
		WHERE asset_id = ? AND date BETWEEN ? AND ?
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

func (s *SQLiteStore) Snapshot(ctx context.Context, assetID string, date time.Time) (market.FeatureSnapshot, bool, error) {
	if strings.TrimSpace(assetID) == "" {
		return market.FeatureSnapshot{}, false, fmt.Errorf("asset_id 不能为空")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT fields FROM features WHERE asset_id = ? AND date = ?`,
		assetID, market.DayMillis(date))
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return market.FeatureSnapshot{}, false, nil
		}
		return market.FeatureSnapshot{}, false, err
	}
	fields := make(map[string]float64)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return market.FeatureSnapshot{}, false, fmt.Errorf("features 字段解析失败 (%s@%s): %w", assetID, market.FormatDate(date), err)
	}
	return market.FeatureSnapshot{
		AssetID: assetID,
		Date:    market.Day(date),
		Fields:  fields,
	}, true, nil
}

func (s *SQLiteStore) Assets(ctx context.Context) ([]market.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
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

// Coverage 汇总单个资产的日线覆盖情况。
func (s *SQLiteStore) Coverage(ctx context.Context, assetID string) (Coverage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(date), 0), COALESCE(MAX(date), 0), COUNT(1)
		FROM bars WHERE asset_id = ?`, assetID)
	cov := Coverage{AssetID: assetID}
	if err := row.Scan(&cov.MinDate, &cov.MaxDate, &cov.Bars); err != nil {
		return Coverage{}, err
	}
	return cov, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBar(row scanner) (market.DailyBar, error) {
	var (
		b  market.DailyBar
		ms int64
	)
	if err := row.Scan(&b.AssetID, &ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
		return market.DailyBar{}, err
	}
	b.Date = market.DayFromMillis(ms)
	return b, nil
}
