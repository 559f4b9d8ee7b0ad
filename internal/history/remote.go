package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

// BarSource 统一不同行情供应商的日线拉取行为。
type BarSource interface {
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]market.DailyBar, error)
	Name() string
}

// CSVSource 访问 GET {base}/daily?symbol=&start=&end=，响应为
// date,open,high,low,close,volume 的 CSV（带表头）。
type CSVSource struct {
	baseURL string
	client  *http.Client
}

func NewCSVSource(base string, timeout time.Duration) *CSVSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CSVSource{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *CSVSource) Name() string { return "csv" }

func (c *CSVSource) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]market.DailyBar, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("remote base_url 未配置")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path += "/daily"
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("start", market.FormatDate(start))
	q.Set("end", market.FormatDate(end))
	u.RawQuery = q.Encode()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote 返回状态码 %d", resp.StatusCode)
	}
	bars, err := parseDailyCSV(resp.Body, symbol)
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// parseDailyCSV 宽松解析：坏行跳过，日期列必须可解析。
func parseDailyCSV(r io.Reader, assetID string) ([]market.DailyBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var out []market.DailyBar
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 CSV 失败: %w", err)
		}
		if first {
			first = false
			if len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "date") {
				continue
			}
		}
		if len(record) < 6 {
			continue
		}
		date, err := market.ParseDate(record[0])
		if err != nil {
			continue
		}
		out = append(out, market.DailyBar{
			AssetID: assetID,
			Date:    date,
			Open:    parseFloat(record[1]),
			High:    parseFloat(record[2]),
			Low:     parseFloat(record[3]),
			Close:   parseFloat(record[4]),
			Volume:  parseFloat(record[5]),
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
