package config

import "strings"

// Config 是 Stratos 回测引擎的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Report    ReportConfig    `toml:"report"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// DataConfig 描述历史行情库的访问方式。
type DataConfig struct {
	Driver      string       `toml:"driver"` // "sqlite" | "postgres"
	SQLitePath  string       `toml:"sqlite_path"`
	PostgresDSN string       `toml:"postgres_dsn"`
	MinBars     int          `toml:"min_bars"` // 信号日回看窗口内的最少 K 线数
	Retry       RetryConfig  `toml:"retry"`
	Remote      RemoteConfig `toml:"remote"`
}

type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BackoffMS   int `toml:"backoff_ms"`
}

// RemoteConfig 描述远端日线 CSV 源（fetch 子命令使用）。
type RemoteConfig struct {
	BaseURL        string  `toml:"base_url"`
	RatePerSec     float64 `toml:"rate_per_sec"`
	Burst          int     `toml:"burst"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

type BacktestConfig struct {
	FrictionRate  float64 `toml:"friction_rate"`
	TieBreak      string  `toml:"tie_break"`    // "stop_first" | "target_first"
	EntryTiming   string  `toml:"entry_timing"` // setup 未显式声明时的缺省值
	WarmupDays    int     `toml:"warmup_days"`
	MaxConcurrent int     `toml:"max_concurrent"`
	SetupsPath    string  `toml:"setups_path"`
	UniversesPath string  `toml:"universes_path"`
	ResultsPath   string  `toml:"results_path"`
}

// ScoringConfig 控制 reliability_score 的合成方式。
type ScoringConfig struct {
	MinSample       int          `toml:"min_sample"`
	TradeCountNorm  int          `toml:"trade_count_norm"`
	ProfitFactorCap float64      `toml:"profit_factor_cap"`
	Weights         ScoreWeights `toml:"weights"`
}

type ScoreWeights struct {
	TradeCount   float64 `toml:"trade_count"`
	WinRate      float64 `toml:"win_rate"`
	ProfitFactor float64 `toml:"profit_factor"`
}

func (w ScoreWeights) Sum() float64 {
	return w.TradeCount + w.WinRate + w.ProfitFactor
}

type OptimizerConfig struct {
	Workers    int   `toml:"workers"`
	MinTrades  int   `toml:"min_trades"`
	TopN       int   `toml:"top_n"`
	SampleSeed int64 `toml:"sample_seed"`
}

type ReportConfig struct {
	OutputDir            string `toml:"output_dir"`
	Charts               bool   `toml:"charts"`
	RenderPNG            bool   `toml:"render_png"`
	ChromeTimeoutSeconds int    `toml:"chrome_timeout_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
