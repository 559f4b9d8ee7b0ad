package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

const (
	GridStatusDone     = "done"
	GridStatusExcluded = "excluded"
)

// ErrRunNotFound 表示结果库中不存在该 run。
var ErrRunNotFound = errors.New("run not found")

type runModel struct {
	ID            string         `gorm:"column:id;primaryKey;size:64"`
	SetupName     string         `gorm:"column:setup_name;size:128;index"`
	Universe      string         `gorm:"column:universe;size:128"`
	StartDate     int64          `gorm:"column:start_date"`
	EndDate       int64          `gorm:"column:end_date"`
	EntryTiming   string         `gorm:"column:entry_timing;size:16"`
	TieBreak      string         `gorm:"column:tie_break;size:16"`
	FrictionRate  float64        `gorm:"column:friction_rate"`
	Status        string         `gorm:"column:status;size:16;index"`
	Message       string         `gorm:"column:message"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	MetricsJSON   datatypes.JSON `gorm:"column:metrics_json;type:TEXT"`
	TradeCount    int            `gorm:"column:trade_count"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string  `gorm:"column:run_id;size:64;index"`
	AssetID    string  `gorm:"column:asset_id;size:64"`
	Symbol     string  `gorm:"column:symbol;size:64"`
	SetupName  string  `gorm:"column:setup_name;size:128"`
	SignalDate int64   `gorm:"column:signal_date"`
	EntryDate  int64   `gorm:"column:entry_date"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitDate   int64   `gorm:"column:exit_date"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	ExitReason string  `gorm:"column:exit_reason;size:32"`
	ReturnPct  float64 `gorm:"column:return_pct"`
	HoldDays   int     `gorm:"column:hold_days"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type gridRowModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	GridID        string         `gorm:"column:grid_id;size:64;index"`
	RunID         string         `gorm:"column:run_id;size:64"`
	SetupName     string         `gorm:"column:setup_name;size:128"`
	Universe      string         `gorm:"column:universe;size:128"`
	StartDate     int64          `gorm:"column:start_date"`
	EndDate       int64          `gorm:"column:end_date"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Status        string         `gorm:"column:status;size:16;index"`
	Reason        string         `gorm:"column:reason"`
	MetricsJSON   datatypes.JSON `gorm:"column:metrics_json;type:TEXT"`
	Reliability   float64        `gorm:"column:reliability_score;index"`
	TradeCount    int            `gorm:"column:trade_count"`
	Eligible      bool           `gorm:"column:eligible"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (gridRowModel) TableName() string { return "grid_results" }

// StoredRun 是结果库中一次回测的概要。
type StoredRun struct {
	RunID        string             `json:"run_id"`
	SetupName    string             `json:"setup_name"`
	Universe     string             `json:"universe"`
	Range        DateRange          `json:"date_range"`
	EntryTiming  string             `json:"entry_timing"`
	TieBreak     string             `json:"tie_break"`
	FrictionRate float64            `json:"friction_rate"`
	Status       string             `json:"status"`
	Message      string             `json:"message,omitempty"`
	Params       map[string]float64 `json:"params,omitempty"`
	Metrics      *Metrics           `json:"metrics,omitempty"`
	TradeCount   int                `json:"trade_count"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// GridRecord 是网格中一个参数组合的持久化行，失败组合以 excluded 状态
// 带原因落库，绝不丢弃。
type GridRecord struct {
	GridID     string             `json:"grid_id"`
	RunID      string             `json:"run_id,omitempty"`
	SetupName  string             `json:"setup_name"`
	Universe   string             `json:"universe"`
	Range      DateRange          `json:"date_range"`
	Params     map[string]float64 `json:"params"`
	Status     string             `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Metrics    *Metrics           `json:"metrics,omitempty"`
	Eligible   bool               `json:"eligible"`
	CreatedAt  time.Time          `json:"created_at"`
	TradeCount int                `json:"trade_count"`
}

// GridSummary 是一次网格搜索的聚合概要。
type GridSummary struct {
	GridID    string    `json:"grid_id"`
	Combos    int       `json:"combos"`
	BestScore float64   `json:"best_score"`
	CreatedAt time.Time `json:"created_at"`
}

// ResultStore 用 gorm + SQLite 保存回测与网格结果。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("结果库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &gridRowModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 登记一次待执行的回测。
func (s *ResultStore) CreateRun(ctx context.Context, runID string, spec RunSpec) error {
	params, err := marshalJSON(spec.Params)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	rec := runModel{
		ID:            runID,
		SetupName:     spec.Setup,
		Universe:      spec.Universe,
		StartDate:     market.DayMillis(spec.Start),
		EndDate:       market.DayMillis(spec.End),
		TieBreak:      spec.TieBreak,
		Status:        RunStatusPending,
		ParamsJSON:    params,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// UpdateRunStatus 推进 run 的状态并记录一条消息。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, runID, status, message string) error {
	return s.db.WithContext(ctx).Model(&runModel{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":     status,
			"message":    message,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

// SaveResult 落库一次完成的回测：覆盖 run 行并整体重写交易明细。
func (s *ResultStore) SaveResult(ctx context.Context, res *Result) error {
	params, err := marshalJSON(res.Params)
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(res.Metrics)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	rec := runModel{
		ID:            res.RunID,
		SetupName:     res.SetupName,
		Universe:      res.Universe,
		StartDate:     market.DayMillis(res.Range.Start),
		EndDate:       market.DayMillis(res.Range.End),
		EntryTiming:   res.EntryTiming,
		TieBreak:      res.TieBreak,
		FrictionRate:  res.FrictionRate,
		Status:        RunStatusDone,
		Message:       "完成",
		ParamsJSON:    params,
		MetricsJSON:   metrics,
		TradeCount:    len(res.Trades),
		CreatedAtUnix: res.CreatedAt.UnixMilli(),
		UpdatedAtUnix: now,
	}
	trades := make([]tradeModel, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, tradeModel{
			RunID:      res.RunID,
			AssetID:    t.AssetID,
			Symbol:     t.Symbol,
			SetupName:  t.SetupName,
			SignalDate: market.DayMillis(t.SignalDate),
			EntryDate:  market.DayMillis(t.EntryDate),
			EntryPrice: t.EntryPrice,
			ExitDate:   market.DayMillis(t.ExitDate),
			ExitPrice:  t.ExitPrice,
			ExitReason: string(t.ExitReason),
			ReturnPct:  t.ReturnPct,
			HoldDays:   t.HoldDays,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", res.RunID).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		return tx.CreateInBatches(&trades, 200).Error
	})
}

// FailRun 把 run 标记为失败。
func (s *ResultStore) FailRun(ctx context.Context, runID, message string) error {
	return s.UpdateRunStatus(ctx, runID, RunStatusFailed, message)
}

// Run 返回单次回测的概要。
func (s *ResultStore) Run(ctx context.Context, runID string) (StoredRun, error) {
	var rec runModel
	err := s.db.WithContext(ctx).Where("id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StoredRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return StoredRun{}, err
	}
	return runModelToStored(rec)
}

// Runs 按创建时间倒序返回最近的回测。
func (s *ResultStore) Runs(ctx context.Context, limit int) ([]StoredRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]StoredRun, 0, len(recs))
	for _, rec := range recs {
		sr, err := runModelToStored(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}

// RunTrades 返回某次回测的全部交易，顺序与落库时一致。
func (s *ResultStore) RunTrades(ctx context.Context, runID string) ([]Trade, error) {
	var recs []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Trade{
			AssetID:    rec.AssetID,
			Symbol:     rec.Symbol,
			SetupName:  rec.SetupName,
			State:      StateClosed,
			SignalDate: market.DayFromMillis(rec.SignalDate),
			EntryDate:  market.DayFromMillis(rec.EntryDate),
			EntryPrice: rec.EntryPrice,
			ExitDate:   market.DayFromMillis(rec.ExitDate),
			ExitPrice:  rec.ExitPrice,
			ExitReason: ExitReason(rec.ExitReason),
			ReturnPct:  rec.ReturnPct,
			HoldDays:   rec.HoldDays,
		})
	}
	return out, nil
}

// SaveGridRows 批量落库一次网格搜索的全部组合行。
func (s *ResultStore) SaveGridRows(ctx context.Context, recs []GridRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]gridRowModel, 0, len(recs))
	for _, rec := range recs {
		params, err := marshalJSON(rec.Params)
		if err != nil {
			return err
		}
		var (
			metrics datatypes.JSON
			score   float64
		)
		if rec.Metrics != nil {
			if metrics, err = marshalJSON(rec.Metrics); err != nil {
				return err
			}
			score = rec.Metrics.ReliabilityScore
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		rows = append(rows, gridRowModel{
			GridID:        rec.GridID,
			RunID:         rec.RunID,
			SetupName:     rec.SetupName,
			Universe:      rec.Universe,
			StartDate:     market.DayMillis(rec.Range.Start),
			EndDate:       market.DayMillis(rec.Range.End),
			ParamsJSON:    params,
			Status:        rec.Status,
			Reason:        rec.Reason,
			MetricsJSON:   metrics,
			Reliability:   score,
			TradeCount:    rec.TradeCount,
			Eligible:      rec.Eligible,
			CreatedAtUnix: created.UnixMilli(),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&rows, 200).Error
}

// GridRows 返回某次网格搜索的全部组合，得分高的在前。
func (s *ResultStore) GridRows(ctx context.Context, gridID string) ([]GridRecord, error) {
	var recs []gridRowModel
	err := s.db.WithContext(ctx).
		Where("grid_id = ?", gridID).
		Order("reliability_score DESC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]GridRecord, 0, len(recs))
	for _, rec := range recs {
		gr := GridRecord{
			GridID:     rec.GridID,
			RunID:      rec.RunID,
			SetupName:  rec.SetupName,
			Universe:   rec.Universe,
			Range:      DateRange{Start: market.DayFromMillis(rec.StartDate), End: market.DayFromMillis(rec.EndDate)},
			Status:     rec.Status,
			Reason:     rec.Reason,
			Eligible:   rec.Eligible,
			TradeCount: rec.TradeCount,
			CreatedAt:  time.UnixMilli(rec.CreatedAtUnix).UTC(),
		}
		if err := unmarshalJSON(rec.ParamsJSON, &gr.Params); err != nil {
			return nil, err
		}
		if len(rec.MetricsJSON) > 0 {
			var m Metrics
			if err := unmarshalJSON(rec.MetricsJSON, &m); err != nil {
				return nil, err
			}
			gr.Metrics = &m
		}
		out = append(out, gr)
	}
	return out, nil
}

// Grids 按时间倒序返回最近的网格搜索概要。
func (s *ResultStore) Grids(ctx context.Context, limit int) ([]GridSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	type row struct {
		GridID    string
		Combos    int
		BestScore float64
		CreatedAt int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&gridRowModel{}).
		Select("grid_id AS grid_id, COUNT(*) AS combos, MAX(reliability_score) AS best_score, MIN(created_at) AS created_at").
		Group("grid_id").
		Order("created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]GridSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, GridSummary{
			GridID:    r.GridID,
			Combos:    r.Combos,
			BestScore: r.BestScore,
			CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		})
	}
	return out, nil
}

func runModelToStored(rec runModel) (StoredRun, error) {
	sr := StoredRun{
		RunID:        rec.ID,
		SetupName:    rec.SetupName,
		Universe:     rec.Universe,
		Range:        DateRange{Start: market.DayFromMillis(rec.StartDate), End: market.DayFromMillis(rec.EndDate)},
		EntryTiming:  rec.EntryTiming,
		TieBreak:     rec.TieBreak,
		FrictionRate: rec.FrictionRate,
		Status:       rec.Status,
		Message:      rec.Message,
		TradeCount:   rec.TradeCount,
		CreatedAt:    time.UnixMilli(rec.CreatedAtUnix).UTC(),
		UpdatedAt:    time.UnixMilli(rec.UpdatedAtUnix).UTC(),
	}
	if err := unmarshalJSON(rec.ParamsJSON, &sr.Params); err != nil {
		return StoredRun{}, err
	}
	if len(rec.MetricsJSON) > 0 {
		var m Metrics
		if err := unmarshalJSON(rec.MetricsJSON, &m); err != nil {
			return StoredRun{}, err
		}
		sr.Metrics = &m
	}
	return sr, nil
}

func marshalJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化结果字段失败: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func unmarshalJSON(raw datatypes.JSON, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("解析结果字段失败: %w", err)
	}
	return nil
}
