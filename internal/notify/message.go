package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/optimize"
)

const maxMessageLen = 3800

// Section 是摘要里的一个段落。
type Section struct {
	Title string
	Lines []string
}

// Message 是统一格式的推送内容，渲染成 Telegram Markdown。
type Message struct {
	Icon      string
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，超长自动截断。
func (m Message) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}

	blocks := make([]string, 0, len(m.Sections))
	for _, sec := range m.Sections {
		var sb strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			sb.WriteString(sanitize(title))
			sb.WriteString("\n")
		}
		kept := 0
		for _, line := range sec.Lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			sb.WriteString("- ")
			sb.WriteString(sanitize(line))
			sb.WriteString("\n")
			kept++
		}
		if kept > 0 {
			blocks = append(blocks, sb.String())
		}
	}
	if len(blocks) > 0 {
		b.WriteString("```\n")
		b.WriteString(strings.Join(blocks, "\n"))
		b.WriteString("```\n\n")
	}

	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}

	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

// Markdown 的代码块围栏不能出现在内容里。
func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// RunMessage 汇总单次回测的关键指标。
func RunMessage(res *backtest.Result) Message {
	m := res.Metrics
	msg := Message{
		Icon:  "📊",
		Title: fmt.Sprintf("回测完成 %s / %s", res.SetupName, res.Universe),
		Sections: []Section{
			{
				Title: "区间",
				Lines: []string{fmt.Sprintf("%s ~ %s", market.FormatDate(res.Range.Start), market.FormatDate(res.Range.End))},
			},
		},
		Footer:    "run_id: " + res.RunID,
		Timestamp: time.Now(),
	}
	if m.TotalTrades == 0 {
		msg.Sections = append(msg.Sections, Section{
			Title: "指标",
			Lines: []string{"区间内没有触发任何信号"},
		})
		return msg
	}
	msg.Sections = append(msg.Sections, Section{
		Title: "指标",
		Lines: []string{
			fmt.Sprintf("trades: %d (win %d / loss %d)", m.TotalTrades, m.Wins, m.Losses),
			fmt.Sprintf("win_rate: %.1f%%", m.WinRate*100),
			fmt.Sprintf("profit_factor: %.2f", m.ProfitFactor),
			fmt.Sprintf("avg_return: %.2f%%", m.AvgReturnPct*100),
			fmt.Sprintf("reliability: %.4f", m.ReliabilityScore),
		},
	})
	if len(res.Skipped) > 0 {
		msg.Sections = append(msg.Sections, Section{
			Title: "跳过",
			Lines: []string{fmt.Sprintf("%d 个标的因数据不足被跳过", len(res.Skipped))},
		})
	}
	return msg
}

// GridMessage 汇总一次网格搜索，被排除的组合数一并上报。
func GridMessage(out *optimize.Outcome) Message {
	done, excluded := 0, 0
	for _, rec := range out.Records {
		if rec.Status == backtest.GridStatusExcluded {
			excluded++
		} else {
			done++
		}
	}
	msg := Message{
		Icon:  "🧮",
		Title: "网格搜索完成",
		Sections: []Section{
			{
				Title: "概要",
				Lines: []string{
					fmt.Sprintf("combos: %d (done %d / excluded %d)", len(out.Records), done, excluded),
					fmt.Sprintf("elapsed: %s", out.Elapsed.Round(time.Millisecond)),
				},
			},
		},
		Footer:    "grid_id: " + out.GridID,
		Timestamp: time.Now(),
	}
	best := Section{Title: "最优组合"}
	if out.Best != nil && out.Best.Metrics != nil {
		best.Lines = []string{
			optimize.FormatParams(out.Best.Params),
			fmt.Sprintf("score: %.4f trades: %d", out.Best.Metrics.ReliabilityScore, out.Best.TradeCount),
		}
	} else {
		best.Lines = []string{"没有组合达到最低成交笔数"}
	}
	msg.Sections = append(msg.Sections, best)
	return msg
}
