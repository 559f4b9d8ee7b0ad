// Package features 从日线序列推导每个交易日的特征快照。
// 所有比率类字段统一使用小数表示，0.02 即 2%。
package features

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

const (
	rsiPeriod      = 14
	atrPeriod      = 14
	rocPeriod      = 20
	volWindow      = 20
	donchianWindow = 20
	smaFastPeriod  = 20
	smaMidPeriod   = 50
	smaSlowPeriod  = 200
	emaPeriod      = 21
)

// LookbackBars 是产出首个完整快照所需的最少日线根数，
// 由最慢的均线窗口决定。
const LookbackBars = smaSlowPeriod

// tradingDaysPerYear 用于把日度波动率年化。
const tradingDaysPerYear = 252

// Compute 对按日期升序排列的同一标的日线序列计算特征快照。
// 暖机期内的交易日不会产出快照，历史不足时返回空切片。
func Compute(bars []market.DailyBar) []market.FeatureSnapshot {
	if len(bars) < LookbackBars {
		return nil
	}
	opens := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		opens[i] = b.Open
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	rsi := talib.Rsi(closes, rsiPeriod)
	smaFast := talib.Sma(closes, smaFastPeriod)
	smaMid := talib.Sma(closes, smaMidPeriod)
	smaSlow := talib.Sma(closes, smaSlowPeriod)
	ema := talib.Ema(closes, emaPeriod)
	atr := talib.Atr(highs, lows, closes, atrPeriod)
	roc := talib.Roc(closes, rocPeriod)
	volumeSMA := talib.Sma(volumes, volWindow)
	rollingHigh := talib.Max(highs, donchianWindow)

	// 日度对数收益。坏点不能写 NaN，talib 的滑窗累计和会被永久污染，
	// 这里用 0 占位并单独记录坏点，命中坏点的窗口整体作废。
	logReturns := make([]float64, len(bars))
	badReturn := make([]bool, len(bars))
	badReturn[0] = true
	for i := 1; i < len(bars); i++ {
		if closes[i] <= 0 || closes[i-1] <= 0 {
			badReturn[i] = true
			continue
		}
		logReturns[i] = math.Log(closes[i] / closes[i-1])
	}
	badPrefix := make([]int, len(bars)+1)
	for i, bad := range badReturn {
		badPrefix[i+1] = badPrefix[i]
		if bad {
			badPrefix[i+1]++
		}
	}
	realizedVol := talib.StdDev(logReturns, volWindow, 1)
	volWindowClean := func(i int) bool {
		return badPrefix[i+1]-badPrefix[i+1-volWindow] == 0
	}

	out := make([]market.FeatureSnapshot, 0, len(bars)-LookbackBars+1)
	for i := LookbackBars - 1; i < len(bars); i++ {
		fields := make(map[string]float64, 13)
		ok := true
		put := func(name string, v float64, valid bool) {
			if !valid || !finite(v) {
				ok = false
				return
			}
			fields[name] = round6(v)
		}

		put("rsi_14", rsi[i], finite(rsi[i]))

		d, valid := distPct(closes[i], smaFast[i])
		put("sma_20_dist_pct", d, valid)
		d, valid = distPct(closes[i], smaMid[i])
		put("sma_50_dist_pct", d, valid)
		d, valid = distPct(closes[i], smaSlow[i])
		put("sma_200_dist_pct", d, valid)
		d, valid = distPct(closes[i], ema[i])
		put("ema_21_dist_pct", d, valid)

		r, valid := ratioOf(atr[i], closes[i])
		put("atr_14_pct", r, valid)
		put("roc_20", roc[i]/100, finite(roc[i]))
		put("realized_vol_20", realizedVol[i]*math.Sqrt(tradingDaysPerYear), volWindowClean(i) && finite(realizedVol[i]))

		// 昨日为止的 20 日最高价，当日数据不参与，避免前视。
		priorHigh := rollingHigh[i-1]
		d, valid = distPct(closes[i], priorHigh)
		put("donchian_20_high_dist_pct", d, valid)
		fields["new_20d_high"] = flag01(finite(priorHigh) && priorHigh > 0 && highs[i] > priorHigh)

		d, valid = distPct(opens[i], closes[i-1])
		put("gap_pct", d, valid)

		r, valid = ratioOf(volumes[i], volumeSMA[i])
		put("volume_ratio_20", r, valid)

		fields["sma_50_above_200"] = flag01(smaMid[i] > smaSlow[i])

		if !ok {
			continue
		}
		out = append(out, market.FeatureSnapshot{
			AssetID: bars[i].AssetID,
			Date:    market.Day(bars[i].Date),
			Fields:  fields,
		})
	}
	return out
}

// distPct 返回 price 相对 ref 的偏离幅度。
func distPct(price, ref float64) (float64, bool) {
	if !finite(price) || !finite(ref) || ref <= 0 {
		return 0, false
	}
	return price/ref - 1, true
}

func ratioOf(num, den float64) (float64, bool) {
	if !finite(num) || !finite(den) || den <= 0 {
		return 0, false
	}
	return num / den, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func flag01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
