package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/optimize"
)

const defaultChromeTimeout = 45 * time.Second

var (
	headlessOnce sync.Once
	headlessErr  error
)

// ensureHeadless 探测一次 headless Chrome 是否可用，失败结果会被缓存。
func ensureHeadless(ctx context.Context) error {
	headlessOnce.Do(func() {
		probe, cancel := chromedp.NewContext(ctx)
		defer cancel()
		headlessErr = chromedp.Run(probe)
	})
	return headlessErr
}

// SnapshotPNG 把图表页渲染成同名 PNG。chartCount 决定视口高度。
func SnapshotPNG(ctx context.Context, htmlPath string, chartCount int, timeout time.Duration) (string, error) {
	if err := ensureHeadless(ctx); err != nil {
		return "", fmt.Errorf("headless chrome 不可用: %w", err)
	}
	raw, err := os.ReadFile(htmlPath)
	if err != nil {
		return "", err
	}
	if chartCount < 1 {
		chartCount = 1
	}
	height := chartCount*(chartHeightPx+60) + 60
	if height < 520 {
		height = 520
	}
	png, err := renderHTMLToPNG(ctx, raw, chartWidthPx, height, timeout)
	if err != nil {
		return "", err
	}
	out := strings.TrimSuffix(htmlPath, filepath.Ext(htmlPath)) + ".png"
	if err := os.WriteFile(out, png, 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int, timeout time.Duration) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultChromeTimeout
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, timeout)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}

// Artifacts 列出一次导出产生的文件。JSON 一定存在，图表与 PNG 取决于配置。
type Artifacts struct {
	JSONPath string `json:"json_path"`
	HTMLPath string `json:"html_path,omitempty"`
	PNGPath  string `json:"png_path,omitempty"`
}

// Exporter 按配置逐级导出：JSON 是硬产出，图表与 PNG 失败只降级告警，
// 不影响已经落库的回测结果。
type Exporter struct {
	Writer  Writer
	Charts  bool
	PNG     bool
	Timeout time.Duration
}

func NewExporter(cfg config.ReportConfig, topN int) *Exporter {
	return &Exporter{
		Writer:  Writer{Dir: cfg.OutputDir, TopN: topN},
		Charts:  cfg.Charts,
		PNG:     cfg.Charts && cfg.RenderPNG,
		Timeout: time.Duration(cfg.ChromeTimeoutSeconds) * time.Second,
	}
}

// ExportRun 导出单次回测。
func (e *Exporter) ExportRun(ctx context.Context, res *backtest.Result) (Artifacts, error) {
	var art Artifacts
	path, err := e.Writer.WriteRun(res)
	if err != nil {
		return art, err
	}
	art.JSONPath = path
	if !e.Charts || len(res.Trades) == 0 {
		return art, nil
	}
	html, err := e.Writer.WriteRunCharts(res)
	if err != nil {
		logger.Warnf("生成回测图表失败 run=%s: %v", res.RunID, err)
		return art, nil
	}
	art.HTMLPath = html
	if !e.PNG {
		return art, nil
	}
	png, err := SnapshotPNG(ctx, html, 2, e.Timeout)
	if err != nil {
		logger.Warnf("渲染回测 PNG 失败 run=%s: %v", res.RunID, err)
		return art, nil
	}
	art.PNGPath = png
	return art, nil
}

// ExportGrid 导出网格搜索汇总。
func (e *Exporter) ExportGrid(ctx context.Context, out *optimize.Outcome) (Artifacts, error) {
	var art Artifacts
	path, err := e.Writer.WriteGrid(out)
	if err != nil {
		return art, err
	}
	art.JSONPath = path
	if !e.Charts {
		return art, nil
	}
	html, err := e.Writer.WriteGridCharts(out)
	if err != nil {
		logger.Warnf("生成网格图表失败 grid=%s: %v", out.GridID, err)
		return art, nil
	}
	art.HTMLPath = html
	if !e.PNG {
		return art, nil
	}
	png, err := SnapshotPNG(ctx, html, 1, e.Timeout)
	if err != nil {
		logger.Warnf("渲染网格 PNG 失败 grid=%s: %v", out.GridID, err)
		return art, nil
	}
	art.PNGPath = png
	return art, nil
}
