package optimize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

// 搜索模式。
const (
	ModeExhaustive = "exhaustive"
	ModeSample     = "sample"
)

// Request 描述一次网格搜索。
type Request struct {
	Setup    string
	Universe string
	Start    time.Time
	End      time.Time
	Grid     Grid
	Mode     string // "" 等价于 exhaustive
	Samples  int    // sample 模式的抽取数量
	Seed     int64  // 0 时回落到配置的 sample_seed
	TieBreak string
}

// Outcome 是一次网格搜索的完整产出。Records 已排名：可入选的组合按
// 得分降序在前，样本不足的组合随后，被排除的组合固定在末尾。
type Outcome struct {
	GridID  string
	Records []backtest.GridRecord
	Best    *backtest.GridRecord
	Elapsed time.Duration
}

// Optimizer 以工作池驱动参数网格搜索。每个组合独立执行一次完整回测，
// 组合之间不共享任何可变状态；单个组合失败只产生一条 excluded 记录，
// 不会中断整个网格。
type Optimizer struct {
	Engine *backtest.Engine
	Store  *backtest.ResultStore // 可为 nil，此时结果只驻留内存
	Cfg    config.OptimizerConfig
}

// Run 展开网格、并发评估全部组合并排名。只有上下文取消会让整个
// 网格失败，组合级错误都会以 excluded 行保留下来。
func (o *Optimizer) Run(ctx context.Context, req Request) (*Outcome, error) {
	combos, err := o.expand(req)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	gridID := uuid.NewString()
	start, end := market.OrderRange(req.Start, req.End)
	logger.Infof("网格搜索开始 grid=%s setup=%s universe=%s combos=%d workers=%d",
		gridID, req.Setup, req.Universe, len(combos), o.workers())

	records := make([]backtest.GridRecord, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers())
	for i, combo := range combos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := o.evaluate(gctx, gridID, req, start, end, combo)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rank(records)
	best := pickBest(records)
	if best == nil {
		logger.Warnf("网格 %s 没有组合达到最低成交笔数 %d，本次无最优", gridID, o.Cfg.MinTrades)
	} else {
		logger.Infof("网格 %s 最优组合 %s score=%.4f trades=%d",
			gridID, FormatParams(best.Params), best.Metrics.ReliabilityScore, best.TradeCount)
	}
	if o.Store != nil {
		if err := o.Store.SaveGridRows(ctx, records); err != nil {
			return nil, fmt.Errorf("网格结果落库失败: %w", err)
		}
	}
	return &Outcome{
		GridID:  gridID,
		Records: records,
		Best:    best,
		Elapsed: time.Since(started),
	}, nil
}

func (o *Optimizer) expand(req Request) ([]map[string]float64, error) {
	if strings.TrimSpace(req.Setup) == "" || strings.TrimSpace(req.Universe) == "" {
		return nil, fmt.Errorf("网格搜索缺少 setup 或 universe")
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, fmt.Errorf("网格搜索缺少回测区间")
	}
	if err := req.Grid.normalize(); err != nil {
		return nil, err
	}
	var combos []map[string]float64
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", ModeExhaustive:
		combos = req.Grid.Combos()
	case ModeSample:
		if req.Samples < 1 {
			return nil, fmt.Errorf("sample 模式需要抽取数量 >= 1")
		}
		seed := req.Seed
		if seed == 0 {
			seed = o.Cfg.SampleSeed
		}
		combos = req.Grid.Sample(req.Samples, seed)
	default:
		return nil, fmt.Errorf("未知的搜索模式 %q", req.Mode)
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("参数网格展开后为空")
	}
	return combos, nil
}

// evaluate 评估单个组合。返回 error 仅限上下文取消，其余失败都折算成
// excluded 记录。
func (o *Optimizer) evaluate(ctx context.Context, gridID string, req Request, start, end time.Time, params map[string]float64) (backtest.GridRecord, error) {
	rec := backtest.GridRecord{
		GridID:    gridID,
		SetupName: req.Setup,
		Universe:  req.Universe,
		Range:     backtest.DateRange{Start: start, End: end},
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	res, err := o.Engine.Run(ctx, backtest.RunSpec{
		Setup:    req.Setup,
		Universe: req.Universe,
		Start:    req.Start,
		End:      req.End,
		Params:   params,
		TieBreak: req.TieBreak,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rec, err
		}
		rec.Status = backtest.GridStatusExcluded
		rec.Reason = err.Error()
		logger.Warnf("网格组合被排除 grid=%s params=%s: %v", gridID, FormatParams(params), err)
		return rec, nil
	}
	metrics := res.Metrics
	rec.RunID = res.RunID
	rec.Status = backtest.GridStatusDone
	rec.Metrics = &metrics
	rec.TradeCount = metrics.TotalTrades
	rec.Eligible = metrics.TotalTrades >= o.Cfg.MinTrades
	if !rec.Eligible {
		rec.Reason = fmt.Sprintf("成交 %d 笔低于下限 %d，不参与最优评选", metrics.TotalTrades, o.Cfg.MinTrades)
	}
	return rec, nil
}

func (o *Optimizer) workers() int {
	if o.Cfg.Workers < 1 {
		return 1
	}
	return o.Cfg.Workers
}

// rank 排名规则：完成的组合在前（可入选者优先、得分降序、参数字典序
// 兜底），排除的组合保持展开顺序垫底。
func rank(records []backtest.GridRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i], records[j]
		di, dj := ri.Status == backtest.GridStatusDone, rj.Status == backtest.GridStatusDone
		if di != dj {
			return di
		}
		if !di {
			return false
		}
		if ri.Eligible != rj.Eligible {
			return ri.Eligible
		}
		si, sj := ri.Metrics.ReliabilityScore, rj.Metrics.ReliabilityScore
		if si != sj {
			return si > sj
		}
		return FormatParams(ri.Params) < FormatParams(rj.Params)
	})
}

// pickBest 返回排名最高的可入选组合；没有则返回 nil，样本不足的
// 高分组合绝不会顶替。
func pickBest(records []backtest.GridRecord) *backtest.GridRecord {
	for i := range records {
		if records[i].Status == backtest.GridStatusDone && records[i].Eligible {
			return &records[i]
		}
	}
	return nil
}
