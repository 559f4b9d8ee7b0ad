package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eli-nuss/stratos-brain-sub001/internal/app"
	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/history"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/optimize"
	"github.com/eli-nuss/stratos-brain-sub001/internal/report"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cliApp := cli.NewApp()
	cliApp.Name = "stratos"
	cliApp.Usage = "日线 setup 回测与离场模拟引擎"
	cliApp.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "configs/config.yaml",
			Usage:   "配置文件路径",
			EnvVars: []string{"STRATOS_CONFIG"},
		},
	}
	cliApp.Commands = []*cli.Command{
		backtestCommand,
		optimizeCommand,
		scanCommand,
		importCommand,
		fetchCommand,
		featuresCommand,
		serveCommand,
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func printJSON(in any) {
	j, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(j))
}

// buildApp 读配置并装配全部组件。--out 只影响报表输出目录，
// 没有该 flag 的子命令读到空串，等于不覆盖。
func buildApp(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if out := c.String("out"); out != "" {
		cfg.Report.OutputDir = out
	}
	return app.New(c.Context, cfg)
}

func dateRange(c *cli.Context) (time.Time, time.Time, error) {
	start, err := market.ParseDate(c.String("start"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start 非法: %w", err)
	}
	end, err := market.ParseDate(c.String("end"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end 非法: %w", err)
	}
	return start, end, nil
}

// parseParams 解析单次回测的参数覆盖，沿用网格的内联语法，但每个
// 参数只允许一个取值。
func parseParams(s string) (map[string]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	g, err := optimize.ParseInline(s)
	if err != nil {
		return nil, err
	}
	params := make(map[string]float64, len(g))
	for name, vals := range g {
		if len(vals) != 1 {
			return nil, fmt.Errorf("参数 %s 给了 %d 个取值，单次回测每个参数只接受一个", name, len(vals))
		}
		params[name] = vals[0]
	}
	return params, nil
}

// resolveGrid 接受 yaml 文件路径或内联网格。内联形式必然含 =，
// 以此区分两种来源。
func resolveGrid(src string) (optimize.Grid, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("必须通过 --grid 指定参数网格")
	}
	if strings.Contains(src, "=") {
		return optimize.ParseInline(src)
	}
	return optimize.LoadFile(src)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var backtestCommand = &cli.Command{
	Name:  "backtest",
	Usage: "执行一次回测并落库、出报表",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "setup", Usage: "setup 名称", Required: true},
		&cli.StringFlag{Name: "universe", Usage: "universe 名称", Required: true},
		&cli.StringFlag{Name: "start", Usage: "起始日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "end", Usage: "结束日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "params", Usage: "参数覆盖，形如 stop_pct=0.05;max_hold_days=10"},
		&cli.StringFlag{Name: "tie-break", Usage: "同日先停损还是先止盈: stop_first / target_first"},
		&cli.StringFlag{Name: "out", Usage: "覆盖报表输出目录"},
	},
	Action: runBacktestCmd,
}

func runBacktestCmd(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	start, end, err := dateRange(c)
	if err != nil {
		return err
	}
	params, err := parseParams(c.String("params"))
	if err != nil {
		return err
	}

	res, err := a.Engine.Run(c.Context, backtest.RunSpec{
		Setup:    c.String("setup"),
		Universe: c.String("universe"),
		Start:    start,
		End:      end,
		Params:   params,
		TieBreak: c.String("tie-break"),
	})
	if err != nil {
		return err
	}
	if err := a.Results.SaveResult(c.Context, res); err != nil {
		return fmt.Errorf("保存回测结果失败: %w", err)
	}
	art, err := a.Exporter.ExportRun(c.Context, res)
	if err != nil {
		return err
	}
	a.Notifier.NotifyRun(res)

	printJSON(struct {
		RunID     string           `json:"run_id"`
		Metrics   backtest.Metrics `json:"metrics"`
		Skipped   int              `json:"skipped"`
		Artifacts report.Artifacts `json:"artifacts"`
	}{res.RunID, res.Metrics, len(res.Skipped), art})
	return nil
}

var optimizeCommand = &cli.Command{
	Name:  "optimize",
	Usage: "对一个 setup 做参数网格搜索",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "setup", Usage: "setup 名称", Required: true},
		&cli.StringFlag{Name: "universe", Usage: "universe 名称", Required: true},
		&cli.StringFlag{Name: "start", Usage: "起始日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "end", Usage: "结束日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "grid", Usage: "网格 yaml 路径，或内联形式 stop_pct=0.03,0.05;max_hold_days=10,20", Required: true},
		&cli.StringFlag{Name: "mode", Usage: "exhaustive / sample，缺省穷举"},
		&cli.IntFlag{Name: "samples", Usage: "sample 模式抽取的组合数"},
		&cli.Int64Flag{Name: "seed", Usage: "sample 模式随机种子，0 用配置值"},
		&cli.StringFlag{Name: "tie-break", Usage: "覆盖同日冲突的判定顺序"},
		&cli.StringFlag{Name: "out", Usage: "覆盖报表输出目录"},
	},
	Action: runOptimizeCmd,
}

func runOptimizeCmd(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	start, end, err := dateRange(c)
	if err != nil {
		return err
	}
	grid, err := resolveGrid(c.String("grid"))
	if err != nil {
		return err
	}

	out, err := a.Optimizer.Run(c.Context, optimize.Request{
		Setup:    c.String("setup"),
		Universe: c.String("universe"),
		Start:    start,
		End:      end,
		Grid:     grid,
		Mode:     c.String("mode"),
		Samples:  c.Int("samples"),
		Seed:     c.Int64("seed"),
		TieBreak: c.String("tie-break"),
	})
	if err != nil {
		return err
	}
	art, err := a.Exporter.ExportGrid(c.Context, out)
	if err != nil {
		return err
	}
	a.Notifier.NotifyGrid(out)

	printJSON(struct {
		GridID    string               `json:"grid_id"`
		Combos    int                  `json:"combos"`
		Best      *backtest.GridRecord `json:"best,omitempty"`
		Elapsed   string               `json:"elapsed"`
		Artifacts report.Artifacts     `json:"artifacts"`
	}{out.GridID, len(out.Records), out.Best, out.Elapsed.Round(time.Millisecond).String(), art})
	return nil
}

var scanCommand = &cli.Command{
	Name:  "scan",
	Usage: "扫描单个交易日的候选入场，不做模拟",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "setup", Usage: "setup 名称", Required: true},
		&cli.StringFlag{Name: "universe", Usage: "universe 名称", Required: true},
		&cli.StringFlag{Name: "date", Usage: "信号日 YYYY-MM-DD，缺省今天"},
		&cli.StringFlag{Name: "params", Usage: "参数覆盖，形如 rsi_max=25"},
	},
	Action: runScanCmd,
}

func runScanCmd(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	date := market.Day(time.Now().UTC())
	if s := c.String("date"); s != "" {
		date, err = market.ParseDate(s)
		if err != nil {
			return fmt.Errorf("date 非法: %w", err)
		}
	}
	params, err := parseParams(c.String("params"))
	if err != nil {
		return err
	}
	def, err := a.Registry.WithOverrides(c.String("setup"), params)
	if err != nil {
		return err
	}
	assets, err := a.Resolver.Resolve(c.Context, c.String("universe"), date)
	if err != nil {
		return err
	}

	scanner := &backtest.Scanner{Provider: a.Provider, MinBars: a.Cfg.Data.MinBars}
	warmStart := date.AddDate(0, 0, -a.Cfg.Backtest.WarmupDays)
	cands := []backtest.Candidate{}
	skipped := 0
	for _, assetID := range assets {
		if err := c.Context.Err(); err != nil {
			return err
		}
		bars, err := a.Provider.Bars(c.Context, assetID, warmStart, date)
		if err != nil && !errors.Is(err, history.ErrNoData) {
			return fmt.Errorf("读取 %s 日线失败: %w", assetID, err)
		}
		if len(bars) < a.Cfg.Data.MinBars {
			logger.Warnf("%s 历史 %d 根不足 %d，跳过", assetID, len(bars), a.Cfg.Data.MinBars)
			skipped++
			continue
		}
		got, err := scanner.Scan(c.Context, def, assetID, bars, date, date)
		if err != nil {
			return err
		}
		cands = append(cands, got...)
	}

	printJSON(struct {
		Date       string               `json:"date"`
		Setup      string               `json:"setup"`
		Universe   string               `json:"universe"`
		Candidates []backtest.Candidate `json:"candidates"`
		Skipped    int                  `json:"skipped"`
	}{market.FormatDate(date), def.Name, c.String("universe"), cands, skipped})
	return nil
}

var importCommand = &cli.Command{
	Name:  "import",
	Usage: "从本地 CSV / JSONL 导入标的、日线和特征快照",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "assets", Usage: "标的清单 CSV 路径"},
		&cli.StringFlag{Name: "bars", Usage: "日线 CSV 路径"},
		&cli.StringFlag{Name: "asset", Usage: "日线 CSV 缺少 asset_id 列时的归属标的"},
		&cli.StringFlag{Name: "snapshots", Usage: "特征快照 JSONL 路径"},
	},
	Action: runImportCmd,
}

func runImportCmd(c *cli.Context) error {
	assetsPath := c.String("assets")
	barsPath := c.String("bars")
	snapsPath := c.String("snapshots")
	if assetsPath == "" && barsPath == "" && snapsPath == "" {
		return fmt.Errorf("--assets、--bars、--snapshots 至少要指定一个")
	}

	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	var totals struct {
		Assets    int `json:"assets"`
		Bars      int `json:"bars"`
		Snapshots int `json:"snapshots"`
	}
	if assetsPath != "" {
		if totals.Assets, err = history.ImportAssetsCSV(c.Context, a.History, assetsPath); err != nil {
			return err
		}
	}
	if barsPath != "" {
		if totals.Bars, err = history.ImportBarsCSV(c.Context, a.History, barsPath, c.String("asset")); err != nil {
			return err
		}
	}
	if snapsPath != "" {
		if totals.Snapshots, err = history.ImportSnapshotsJSONL(c.Context, a.History, snapsPath); err != nil {
			return err
		}
	}
	printJSON(totals)
	return nil
}

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "从远端数据源拉取日线并落库",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "asset", Usage: "标的 ID", Required: true},
		&cli.StringFlag{Name: "symbol", Usage: "远端代码，缺省同 asset"},
		&cli.StringFlag{Name: "start", Usage: "起始日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "end", Usage: "结束日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "source", Usage: "数据源名称，缺省走配置的默认源"},
	},
	Action: runFetchCmd,
}

func runFetchCmd(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.Ingest()
	if err != nil {
		return err
	}
	start, end, err := dateRange(c)
	if err != nil {
		return err
	}
	job, err := svc.RunFetch(c.Context, history.FetchParams{
		AssetID: c.String("asset"),
		Symbol:  c.String("symbol"),
		Start:   start,
		End:     end,
		Source:  c.String("source"),
	})
	if err != nil {
		return err
	}
	printJSON(job)
	return nil
}

var featuresCommand = &cli.Command{
	Name:  "features",
	Usage: "从日线物化特征快照",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "start", Usage: "起始日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "end", Usage: "结束日 YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "assets", Usage: "标的 ID 逗号分隔，缺省全部"},
	},
	Action: runFeaturesCmd,
}

func runFeaturesCmd(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	start, end, err := dateRange(c)
	if err != nil {
		return err
	}
	rows, err := a.Materializer().Run(c.Context, splitList(c.String("assets")), start, end)
	if err != nil {
		return err
	}
	printJSON(struct {
		Rows int `json:"rows"`
	}{rows})
	return nil
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "启动 HTTP 查询与提交服务，Ctrl-C 优雅退出",
	Action: runServeCmd,
}

func runServeCmd(c *cli.Context) error {
	a, err := buildApp(c)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(c.Context)
}
