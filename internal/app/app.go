// Package app 负责应用级装配：配置 → 日志 → 历史库 → 引擎 → 周边服务。
// 各 CLI 子命令和 HTTP 服务共用同一套构建产物。
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/features"
	"github.com/eli-nuss/stratos-brain-sub001/internal/history"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/notify"
	"github.com/eli-nuss/stratos-brain-sub001/internal/optimize"
	"github.com/eli-nuss/stratos-brain-sub001/internal/report"
	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
	apihttp "github.com/eli-nuss/stratos-brain-sub001/internal/transport/http"
	"github.com/eli-nuss/stratos-brain-sub001/internal/universe"
)

// HistoryStore 汇总 SQLite 与 Postgres 历史库共同的读写面。
type HistoryStore interface {
	history.Provider
	history.Writer
	Coverage(ctx context.Context, assetID string) (history.Coverage, error)
}

// App 持有装配完成的全部组件。
type App struct {
	Cfg       *config.Config
	History   HistoryStore
	Provider  history.Provider
	Registry  *setup.Registry
	Resolver  *universe.Resolver
	Engine    *backtest.Engine
	Results   *backtest.ResultStore
	Optimizer *optimize.Optimizer
	Exporter  *report.Exporter
	Notifier  *notify.Service

	historyClose func() error
	logFile      *os.File
}

// New 按配置装配应用。任何一步失败都直接返回错误，不留半初始化状态。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{Cfg: cfg}
	if cfg.App.LogPath != "" {
		f, err := logger.SetupFile(cfg.App.LogPath)
		if err != nil {
			return nil, fmt.Errorf("初始化日志文件失败: %w", err)
		}
		a.logFile = f
	}

	hist, closeHist, err := openHistory(ctx, cfg.Data)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.History = hist
	a.historyClose = closeHist

	a.Provider = hist
	if cfg.Data.Retry.MaxAttempts > 1 {
		a.Provider = history.NewRetrying(hist, history.RetryPolicy{
			MaxAttempts: cfg.Data.Retry.MaxAttempts,
			Backoff:     time.Duration(cfg.Data.Retry.BackoffMS) * time.Millisecond,
		})
	}

	a.Registry, err = setup.NewRegistry(cfg.Backtest.SetupsPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	set, err := universe.LoadFile(cfg.Backtest.UniversesPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Resolver = universe.NewResolver(set, hist)

	a.Results, err = backtest.NewResultStore(cfg.Backtest.ResultsPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = &backtest.Engine{
		Registry: a.Registry,
		Resolver: a.Resolver,
		Provider: a.Provider,
		Backtest: cfg.Backtest,
		Scoring:  cfg.Scoring,
		MinBars:  cfg.Data.MinBars,
	}
	a.Optimizer = &optimize.Optimizer{Engine: a.Engine, Store: a.Results, Cfg: cfg.Optimizer}
	a.Exporter = report.NewExporter(cfg.Report, cfg.Optimizer.TopN)
	a.Notifier = notify.NewService(cfg.Notify)

	logger.Infof("装配完成 env=%s driver=%s setups=%s universes=%s results=%s",
		cfg.App.Env, cfg.Data.Driver, cfg.Backtest.SetupsPath, cfg.Backtest.UniversesPath, cfg.Backtest.ResultsPath)
	return a, nil
}

func openHistory(ctx context.Context, cfg config.DataConfig) (HistoryStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := history.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { st.Close(); return nil }, nil
	case config.DriverSQLite, "":
		st, err := history.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知历史库驱动: %s", cfg.Driver)
	}
}

// Materializer 构建特征物化器，features 子命令使用。
func (a *App) Materializer() *features.Materializer {
	return features.NewMaterializer(a.History)
}

// Ingest 构建远端日线拉取服务，fetch 子命令使用。
func (a *App) Ingest() (*history.Service, error) {
	remote := a.Cfg.Data.Remote
	if remote.BaseURL == "" {
		return nil, fmt.Errorf("未配置 data.remote.base_url")
	}
	timeout := time.Duration(remote.TimeoutSeconds) * time.Second
	return history.NewService(history.ServiceConfig{
		Store:         a.History,
		Sources:       map[string]history.BarSource{"remote": history.NewCSVSource(remote.BaseURL, timeout)},
		DefaultSource: "remote",
		RatePerSec:    remote.RatePerSec,
		Burst:         remote.Burst,
		MaxConcurrent: a.Cfg.Backtest.MaxConcurrent,
	})
}

// Serve 启动 HTTP API，阻塞直到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	sub := apihttp.NewSubmitter(a.Engine, a.Results, a.Cfg.Backtest.MaxConcurrent)
	sub.SetContext(ctx)
	sub.Exporter = a.Exporter
	sub.Notifier = a.Notifier

	srv, err := apihttp.NewServer(apihttp.Config{
		Addr:      a.Cfg.App.HTTPAddr,
		Registry:  a.Registry,
		Resolver:  a.Resolver,
		Store:     a.Results,
		Submitter: sub,
	})
	if err != nil {
		return err
	}
	logger.Infof("HTTP 服务监听 %s", a.Cfg.App.HTTPAddr)
	return srv.Start(ctx)
}

// Close 释放全部持有的资源，可安全地对半初始化的 App 调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Results != nil {
		if err := a.Results.Close(); err != nil {
			logger.Warnf("关闭结果库失败: %v", err)
		}
	}
	if a.historyClose != nil {
		if err := a.historyClose(); err != nil {
			logger.Warnf("关闭历史库失败: %v", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
