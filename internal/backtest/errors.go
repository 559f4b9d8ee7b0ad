package backtest

import (
	"fmt"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

// DataGapError 表示某资产（或资产日）因数据缺口被跳过。
// 它不是致命错误，回测在记录后继续处理其余资产。
type DataGapError struct {
	AssetID string
	Date    time.Time
	Reason  string
}

func (e *DataGapError) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("数据缺口 %s: %s", e.AssetID, e.Reason)
	}
	return fmt.Sprintf("数据缺口 %s %s: %s", e.AssetID, market.FormatDate(e.Date), e.Reason)
}

func newGap(assetID string, date time.Time, format string, args ...interface{}) *DataGapError {
	return &DataGapError{AssetID: assetID, Date: date, Reason: fmt.Sprintf(format, args...)}
}
