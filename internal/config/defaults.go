package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultDataDriver        = "sqlite"
	defaultDataSQLitePath    = "data/history.db"
	defaultDataMinBars       = 60
	defaultRetryAttempts     = 3
	defaultRetryBackoffMS    = 500
	defaultRemoteRate        = 4.0
	defaultRemoteBurst       = 2
	defaultRemoteTimeout     = 30
	defaultFrictionRate      = 0.0015
	defaultTieBreak          = TieBreakStopFirst
	defaultEntryTiming       = EntryTimingSignalClose
	defaultWarmupDays        = 250
	defaultMaxConcurrent     = 2
	defaultSetupsPath        = "configs/setups.yaml"
	defaultUniversesPath     = "configs/universes.yaml"
	defaultResultsPath       = "data/results.db"
	defaultScoringMinSample  = 30
	defaultScoringCountNorm  = 100
	defaultProfitFactorCap   = 10.0
	defaultWeightTradeCount  = 0.30
	defaultWeightWinRate     = 0.35
	defaultWeightProfit      = 0.35
	defaultOptimizerWorkers  = 4
	defaultOptimizerMinTrade = 30
	defaultOptimizerTopN     = 20
	defaultReportDir         = "reports"
	defaultChromeTimeout     = 45
)

// 可选值常量，校验与运行时共用。
const (
	TieBreakStopFirst   = "stop_first"
	TieBreakTargetFirst = "target_first"

	EntryTimingSignalClose = "signal_close"
	EntryTimingNextOpen    = "next_open"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Scoring.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.driver", &d.Driver, defaultDataDriver),
		stringFieldDefault("data.sqlite_path", &d.SQLitePath, defaultDataSQLitePath),
		fieldDefault{
			key:   "data.min_bars",
			need:  func() bool { return d.MinBars <= 0 },
			apply: func() { d.MinBars = defaultDataMinBars },
		},
		fieldDefault{
			key:   "data.retry.max_attempts",
			need:  func() bool { return d.Retry.MaxAttempts <= 0 },
			apply: func() { d.Retry.MaxAttempts = defaultRetryAttempts },
		},
		fieldDefault{
			key:   "data.retry.backoff_ms",
			need:  func() bool { return d.Retry.BackoffMS <= 0 },
			apply: func() { d.Retry.BackoffMS = defaultRetryBackoffMS },
		},
		fieldDefault{
			key:   "data.remote.rate_per_sec",
			need:  func() bool { return d.Remote.RatePerSec <= 0 },
			apply: func() { d.Remote.RatePerSec = defaultRemoteRate },
		},
		fieldDefault{
			key:   "data.remote.burst",
			need:  func() bool { return d.Remote.Burst <= 0 },
			apply: func() { d.Remote.Burst = defaultRemoteBurst },
		},
		fieldDefault{
			key:   "data.remote.timeout_seconds",
			need:  func() bool { return d.Remote.TimeoutSeconds <= 0 },
			apply: func() { d.Remote.TimeoutSeconds = defaultRemoteTimeout },
		},
	)
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.tie_break", &b.TieBreak, defaultTieBreak),
		stringFieldDefault("backtest.entry_timing", &b.EntryTiming, defaultEntryTiming),
		stringFieldDefault("backtest.setups_path", &b.SetupsPath, defaultSetupsPath),
		stringFieldDefault("backtest.universes_path", &b.UniversesPath, defaultUniversesPath),
		stringFieldDefault("backtest.results_path", &b.ResultsPath, defaultResultsPath),
		fieldDefault{
			key:   "backtest.friction_rate",
			need:  func() bool { return b.FrictionRate <= 0 },
			apply: func() { b.FrictionRate = defaultFrictionRate },
		},
		fieldDefault{
			key:   "backtest.warmup_days",
			need:  func() bool { return b.WarmupDays <= 0 },
			apply: func() { b.WarmupDays = defaultWarmupDays },
		},
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultMaxConcurrent },
		},
	)
	b.TieBreak = strings.ToLower(strings.TrimSpace(b.TieBreak))
	b.EntryTiming = strings.ToLower(strings.TrimSpace(b.EntryTiming))
}

func (s *ScoringConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "scoring.min_sample",
			need:  func() bool { return s.MinSample <= 0 },
			apply: func() { s.MinSample = defaultScoringMinSample },
		},
		fieldDefault{
			key:   "scoring.trade_count_norm",
			need:  func() bool { return s.TradeCountNorm <= 0 },
			apply: func() { s.TradeCountNorm = defaultScoringCountNorm },
		},
		fieldDefault{
			key:   "scoring.profit_factor_cap",
			need:  func() bool { return s.ProfitFactorCap <= 0 },
			apply: func() { s.ProfitFactorCap = defaultProfitFactorCap },
		},
	)
	if s.Weights.Sum() <= 0 {
		s.Weights = ScoreWeights{
			TradeCount:   defaultWeightTradeCount,
			WinRate:      defaultWeightWinRate,
			ProfitFactor: defaultWeightProfit,
		}
	}
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "optimizer.workers",
			need:  func() bool { return o.Workers <= 0 },
			apply: func() { o.Workers = defaultOptimizerWorkers },
		},
		fieldDefault{
			key:   "optimizer.min_trades",
			need:  func() bool { return o.MinTrades <= 0 },
			apply: func() { o.MinTrades = defaultOptimizerMinTrade },
		},
		fieldDefault{
			key:   "optimizer.top_n",
			need:  func() bool { return o.TopN <= 0 },
			apply: func() { o.TopN = defaultOptimizerTopN },
		},
	)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.output_dir", &r.OutputDir, defaultReportDir),
		boolFieldDefault("report.charts", &r.Charts, true),
		fieldDefault{
			key:   "report.chrome_timeout_seconds",
			need:  func() bool { return r.ChromeTimeoutSeconds <= 0 },
			apply: func() { r.ChromeTimeoutSeconds = defaultChromeTimeout },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
