package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

var ErrUnknownUniverse = errors.New("unknown universe")

// Store 是解析动态标的池所需的最小存储面。
type Store interface {
	Assets(ctx context.Context) ([]market.Asset, error)
	Bars(ctx context.Context, assetID string, start, end time.Time) ([]market.DailyBar, error)
}

// Resolver 按 as-of 日期把标的池解析为有序去重的资产列表。
type Resolver struct {
	set   *Set
	store Store
}

func NewResolver(set *Set, store Store) *Resolver {
	return &Resolver{set: set, store: store}
}

// Names 返回全部已定义的标的池名称。
func (r *Resolver) Names() []string { return r.set.Names() }

// Get 返回标的池定义。
func (r *Resolver) Get(name string) (Definition, bool) { return r.set.Get(name) }

// Resolve 在 asOf 日期解析标的池。排名只使用 asOf 及之前的数据；
// 解析为空不是错误，但会单独告警以区分数据访问失败。
func (r *Resolver) Resolve(ctx context.Context, universeID string, asOf time.Time) ([]string, error) {
	def, ok := r.set.Get(universeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUniverse, universeID)
	}
	asOf = market.Day(asOf)

	var (
		ids []string
		err error
	)
	switch def.Kind {
	case KindFixed:
		ids = resolveFixed(def, asOf)
	case KindTopTurnover:
		ids, err = r.resolveTopTurnover(ctx, def, asOf)
	default:
		return nil, fmt.Errorf("标的池 %s 的 kind %q 无法解析", universeID, def.Kind)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		logger.Warnf("标的池 %s 在 %s 解析为空", universeID, market.FormatDate(asOf))
	}
	return ids, nil
}

// resolveFixed 过滤有效期并按名单顺序去重。
func resolveFixed(def Definition, asOf time.Time) []string {
	seen := make(map[string]struct{}, len(def.Members))
	out := make([]string, 0, len(def.Members))
	for _, m := range def.Members {
		if !m.validOn(asOf) {
			continue
		}
		if _, ok := seen[m.AssetID]; ok {
			continue
		}
		seen[m.AssetID] = struct{}{}
		out = append(out, m.AssetID)
	}
	return out
}

// resolveTopTurnover 按回看窗口内的累计成交额排名取前 N。
// 成交额用 decimal 精确累加，排序在并列时回退到 symbol 保证确定性。
func (r *Resolver) resolveTopTurnover(ctx context.Context, def Definition, asOf time.Time) ([]string, error) {
	assets, err := r.store.Assets(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取资产列表失败: %w", err)
	}
	windowStart := asOf.AddDate(0, 0, -(def.WindowDays - 1))

	type ranked struct {
		id       string
		symbol   string
		turnover decimal.Decimal
	}
	rows := make([]ranked, 0, len(assets))
	for _, a := range assets {
		if !strings.EqualFold(a.AssetClass, def.AssetClass) {
			continue
		}
		bars, err := r.store.Bars(ctx, a.ID, windowStart, asOf)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 日线失败: %w", a.ID, err)
		}
		if len(bars) == 0 {
			continue
		}
		sum := decimal.Zero
		for _, b := range bars {
			sum = sum.Add(decimal.NewFromFloat(b.Close).Mul(decimal.NewFromFloat(b.Volume)))
		}
		rows = append(rows, ranked{id: a.ID, symbol: a.Symbol, turnover: sum})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].turnover.Cmp(rows[j].turnover); c != 0 {
			return c > 0
		}
		return rows[i].symbol < rows[j].symbol
	})
	if len(rows) > def.Size {
		rows = rows[:def.Size]
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.id)
	}
	return out, nil
}
