package report

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/optimize"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorGain          = "#34d399"
	colorLoss          = "#f87171"
	colorScore         = "#3b82f6"
	colorTrades        = "#fbbf24"

	chartWidthPx  = 1280
	chartHeightPx = 420
)

// WriteRunCharts 为单次回测生成图表页：累计收益曲线 + 离场原因分布。
func (w *Writer) WriteRunCharts(res *backtest.Result) (string, error) {
	if res == nil || len(res.Trades) == 0 {
		return "", fmt.Errorf("没有交易，无法绘图")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildEquityCurve(res),
		buildExitReasonChart(res.Metrics),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return "", err
	}
	path := filepath.Join(w.dir(), fmt.Sprintf("run_%s.html", res.RunID))
	if err := writeFile(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// WriteGridCharts 为网格搜索生成图表页：头部组合的得分与成交笔数。
func (w *Writer) WriteGridCharts(out *optimize.Outcome) (string, error) {
	if out == nil || len(out.Records) == 0 {
		return "", fmt.Errorf("网格结果为空，无法绘图")
	}
	doc := w.buildGridDocument(out)
	if len(doc.Top) == 0 {
		return "", fmt.Errorf("网格 %s 没有完成的组合，无法绘图", out.GridID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(buildGridScoreChart(out.GridID, doc.Top))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return "", err
	}
	path := filepath.Join(w.dir(), fmt.Sprintf("grid_%s.html", out.GridID))
	if err := writeFile(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

func chartInit(title, subtitle string) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	}
}

// buildEquityCurve 按离场顺序逐笔复利累计收益。
func buildEquityCurve(res *backtest.Result) *charts.Line {
	trades := append([]backtest.Trade(nil), res.Trades...)
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].ExitDate.Equal(trades[j].ExitDate) {
			return trades[i].ExitDate.Before(trades[j].ExitDate)
		}
		return trades[i].AssetID < trades[j].AssetID
	})
	xAxis := make([]string, len(trades))
	data := make([]opts.LineData, len(trades))
	equity := 1.0
	for i, t := range trades {
		equity *= 1 + t.ReturnPct
		xAxis[i] = market.FormatDate(t.ExitDate)
		data[i] = opts.LineData{Value: round2((equity - 1) * 100)}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(chartInit(
		fmt.Sprintf("%s / %s 累计收益 (%%)", res.SetupName, res.Universe),
		fmt.Sprintf("trades=%d win_rate=%.0f%% pf=%.2f", res.Metrics.TotalTrades, res.Metrics.WinRate*100, res.Metrics.ProfitFactor),
	)...)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries("equity", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorGain, Width: 2}))
	return line
}

func buildExitReasonChart(m backtest.Metrics) *charts.Bar {
	reasons := make([]string, 0, len(m.ExitReasons))
	for reason := range m.ExitReasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	data := make([]opts.BarData, len(reasons))
	for i, reason := range reasons {
		color := colorGain
		if reason == string(backtest.ExitStopLoss) || reason == string(backtest.ExitTimeStop) {
			color = colorLoss
		}
		data[i] = opts.BarData{
			Value:     m.ExitReasons[reason],
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(chartInit("离场原因分布", "")...)
	bar.SetXAxis(reasons)
	bar.AddSeries("count", data)
	return bar
}

// buildGridScoreChart 用柱状图画头部组合的可靠性得分，成交笔数叠加为折线。
func buildGridScoreChart(gridID string, top []backtest.GridRecord) *charts.Bar {
	xAxis := make([]string, len(top))
	scores := make([]opts.BarData, len(top))
	counts := make([]opts.LineData, len(top))
	for i, rec := range top {
		xAxis[i] = optimize.FormatParams(rec.Params)
		score := 0.0
		if rec.Metrics != nil {
			score = rec.Metrics.ReliabilityScore
		}
		color := colorScore
		if !rec.Eligible {
			color = colorTextSecondary
		}
		scores[i] = opts.BarData{
			Value:     round4(score),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.85)},
		}
		counts[i] = opts.LineData{Value: rec.TradeCount}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(chartInit(fmt.Sprintf("网格 %s 组合得分", gridID), "灰色柱为样本不足的组合")...)
	bar.SetXAxis(xAxis)
	bar.AddSeries("reliability_score", scores)

	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	line.SetXAxis(xAxis)
	line.AddSeries("trades", counts, charts.WithLineStyleOpts(opts.LineStyle{Color: colorTrades, Width: 2}))
	bar.Overlap(line)
	return bar
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func writeFile(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
