// Package report 把回测与网格结果导出为磁盘工件：JSON 文档、
// echarts 图表页，以及可选的 PNG 快照。
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/optimize"
)

// Writer 负责 JSON 工件。所有文件都落在 Dir 下，文件名带 run/grid ID。
type Writer struct {
	Dir  string
	TopN int
}

// gridDocument 是网格搜索的汇总文档。Top 按可靠性得分降序，
// 被排除的组合单独列出，绝不从文档里消失。
type gridDocument struct {
	GridID    string                `json:"grid_id"`
	SetupName string                `json:"setup_name"`
	Universe  string                `json:"universe"`
	Range     backtest.DateRange    `json:"date_range"`
	Combos    int                   `json:"combos"`
	Evaluated int                   `json:"evaluated"`
	Elapsed   string                `json:"elapsed"`
	Best      *backtest.GridRecord  `json:"best,omitempty"`
	Top       []backtest.GridRecord `json:"top"`
	Excluded  []backtest.GridRecord `json:"excluded,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// WriteRun 把单次回测的完整结果（参数、交易明细、指标）写成 JSON。
func (w *Writer) WriteRun(res *backtest.Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("结果为空，无法导出")
	}
	path := filepath.Join(w.dir(), fmt.Sprintf("run_%s.json", res.RunID))
	if err := writeJSON(path, res); err != nil {
		return "", err
	}
	return path, nil
}

// WriteGrid 把网格搜索结果写成汇总 JSON。
func (w *Writer) WriteGrid(out *optimize.Outcome) (string, error) {
	if out == nil || len(out.Records) == 0 {
		return "", fmt.Errorf("网格结果为空，无法导出")
	}
	doc := w.buildGridDocument(out)
	path := filepath.Join(w.dir(), fmt.Sprintf("grid_%s.json", out.GridID))
	if err := writeJSON(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

func (w *Writer) buildGridDocument(out *optimize.Outcome) gridDocument {
	first := out.Records[0]
	doc := gridDocument{
		GridID:    out.GridID,
		SetupName: first.SetupName,
		Universe:  first.Universe,
		Range:     first.Range,
		Combos:    len(out.Records),
		Elapsed:   out.Elapsed.Round(time.Millisecond).String(),
		Best:      out.Best,
		CreatedAt: time.Now().UTC(),
	}
	topN := w.TopN
	if topN <= 0 {
		topN = 20
	}
	for _, rec := range out.Records {
		if rec.Status == backtest.GridStatusExcluded {
			doc.Excluded = append(doc.Excluded, rec)
			continue
		}
		doc.Evaluated++
		if len(doc.Top) < topN {
			doc.Top = append(doc.Top, rec)
		}
	}
	return doc
}

func (w *Writer) dir() string {
	if strings.TrimSpace(w.Dir) == "" {
		return "reports"
	}
	return w.Dir
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
