package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验，任何错误都在仿真开始前失败。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Scoring.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(); err != nil {
		return err
	}
	if err := c.Report.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("app.log_level must be debug/info/warn/error, got %s", a.LogLevel)
}

func (d *DataConfig) validate() error {
	switch d.Driver {
	case DriverSQLite:
		if strings.TrimSpace(d.SQLitePath) == "" {
			return fmt.Errorf("data.sqlite_path cannot be empty with driver=sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(d.PostgresDSN) == "" {
			return fmt.Errorf("data.postgres_dsn cannot be empty with driver=postgres")
		}
	default:
		return fmt.Errorf("data.driver only supports sqlite/postgres, got %s", d.Driver)
	}
	if d.MinBars < 1 {
		return fmt.Errorf("data.min_bars must be >= 1")
	}
	if d.Retry.MaxAttempts < 1 {
		return fmt.Errorf("data.retry.max_attempts must be >= 1")
	}
	if d.Retry.BackoffMS < 0 {
		return fmt.Errorf("data.retry.backoff_ms must be >= 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.FrictionRate < 0 || b.FrictionRate > 0.05 {
		return fmt.Errorf("backtest.friction_rate must be in [0, 0.05]")
	}
	switch b.TieBreak {
	case TieBreakStopFirst, TieBreakTargetFirst:
	default:
		return fmt.Errorf("backtest.tie_break must be stop_first or target_first, got %s", b.TieBreak)
	}
	switch b.EntryTiming {
	case EntryTimingSignalClose, EntryTimingNextOpen:
	default:
		return fmt.Errorf("backtest.entry_timing must be signal_close or next_open, got %s", b.EntryTiming)
	}
	if b.WarmupDays < 0 {
		return fmt.Errorf("backtest.warmup_days must be >= 0")
	}
	if strings.TrimSpace(b.SetupsPath) == "" {
		return fmt.Errorf("backtest.setups_path cannot be empty")
	}
	if strings.TrimSpace(b.UniversesPath) == "" {
		return fmt.Errorf("backtest.universes_path cannot be empty")
	}
	return nil
}

func (s *ScoringConfig) validate() error {
	if s.MinSample < 1 {
		return fmt.Errorf("scoring.min_sample must be >= 1")
	}
	if s.TradeCountNorm < s.MinSample {
		return fmt.Errorf("scoring.trade_count_norm must be >= scoring.min_sample")
	}
	if s.ProfitFactorCap <= 1 {
		return fmt.Errorf("scoring.profit_factor_cap must be > 1")
	}
	w := s.Weights
	if w.TradeCount < 0 || w.WinRate < 0 || w.ProfitFactor < 0 {
		return fmt.Errorf("scoring.weights entries must be >= 0")
	}
	if w.Sum() <= 0 {
		return fmt.Errorf("scoring.weights must sum to > 0")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	if o.Workers < 1 {
		return fmt.Errorf("optimizer.workers must be >= 1")
	}
	if o.MinTrades < 0 {
		return fmt.Errorf("optimizer.min_trades must be >= 0")
	}
	if o.TopN < 1 {
		return fmt.Errorf("optimizer.top_n must be >= 1")
	}
	return nil
}

func (r *ReportConfig) validate() error {
	if strings.TrimSpace(r.OutputDir) == "" {
		return fmt.Errorf("report.output_dir cannot be empty")
	}
	if r.RenderPNG && !r.Charts {
		return fmt.Errorf("report.render_png requires report.charts=true")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
