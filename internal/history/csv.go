package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

// ImportBarsCSV 导入本地日线 CSV（date,open,high,low,close,volume）。
func ImportBarsCSV(ctx context.Context, w Writer, path, assetID string) (int, error) {
	if strings.TrimSpace(assetID) == "" {
		return 0, fmt.Errorf("asset_id 不能为空")
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open bars csv failed: %w", err)
	}
	defer f.Close()
	bars, err := parseDailyCSV(f, assetID)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		logger.Warnf("[import] %s 没有可用行", path)
		return 0, nil
	}
	return w.InsertBars(ctx, bars)
}

// ImportAssetsCSV 导入资产清单（asset_id,symbol,asset_class）。
func ImportAssetsCSV(ctx context.Context, w Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open assets csv failed: %w", err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	var assets []market.Asset
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("解析 assets csv 失败: %w", err)
		}
		if first {
			first = false
			if len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "asset_id") {
				continue
			}
		}
		if len(record) < 3 {
			continue
		}
		id := strings.TrimSpace(record[0])
		if id == "" {
			continue
		}
		assets = append(assets, market.Asset{
			ID:         id,
			Symbol:     strings.TrimSpace(record[1]),
			AssetClass: strings.ToLower(strings.TrimSpace(record[2])),
		})
	}
	return w.UpsertAssets(ctx, assets)
}
