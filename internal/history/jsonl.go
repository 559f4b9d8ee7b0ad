package history

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"

	"github.com/tidwall/gjson"
)

const snapshotImportBatch = 500

// ImportSnapshotsJSONL 导入指标截面 JSONL。每行形如
// {"asset_id":"AAPL","date":"2024-03-01","fields":{"rsi_14":28.4,...}}。
// 供应商导出经常夹杂坏行，这里逐行宽松解析，坏行跳过并计数。
func ImportSnapshotsJSONL(ctx context.Context, w Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open snapshots jsonl failed: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)

	var (
		batch    []market.FeatureSnapshot
		total    int
		skipped  int
		lineNo   int
		flushErr error
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := w.InsertSnapshots(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			skipped++
			continue
		}
		assetID := gjson.Get(line, "asset_id").String()
		dateStr := gjson.Get(line, "date").String()
		fieldsRes := gjson.Get(line, "fields")
		if assetID == "" || dateStr == "" || !fieldsRes.IsObject() {
			skipped++
			continue
		}
		date, err := market.ParseDate(dateStr)
		if err != nil {
			skipped++
			continue
		}
		fields := make(map[string]float64)
		fieldsRes.ForEach(func(key, value gjson.Result) bool {
			switch value.Type {
			case gjson.Number:
				fields[key.String()] = value.Float()
			case gjson.True:
				fields[key.String()] = 1
			case gjson.False:
				fields[key.String()] = 0
			}
			return true
		})
		if len(fields) == 0 {
			skipped++
			continue
		}
		batch = append(batch, market.FeatureSnapshot{
			AssetID: assetID,
			Date:    date,
			Fields:  fields,
		})
		if len(batch) >= snapshotImportBatch {
			if flushErr = flush(); flushErr != nil {
				return total, flushErr
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read snapshots jsonl failed: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	if skipped > 0 {
		logger.Warnf("[import] %s 跳过 %d 坏行（共 %d 行）", path, skipped, lineNo)
	}
	return total, nil
}
