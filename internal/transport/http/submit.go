package apihttp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/notify"
	"github.com/eli-nuss/stratos-brain-sub001/internal/report"
)

// RunTicket 是异步提交的回执，后续用 run_id 轮询状态。
type RunTicket struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Submitter 在后台执行提交的回测，信号量限制同时在跑的数量。
// Exporter 与 Notifier 可选，缺席时对应环节跳过。
type Submitter struct {
	Engine   *backtest.Engine
	Store    *backtest.ResultStore
	Exporter *report.Exporter
	Notifier *notify.Service

	sem     chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context
}

func NewSubmitter(engine *backtest.Engine, store *backtest.ResultStore, maxConcurrent int) *Submitter {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Submitter{
		Engine:  engine,
		Store:   store,
		sem:     make(chan struct{}, maxConcurrent),
		baseCtx: context.Background(),
	}
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Submitter) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Submitter) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Submit 先落一条 pending 行再转入后台执行。
func (s *Submitter) Submit(spec backtest.RunSpec) (RunTicket, error) {
	spec.RunID = uuid.NewString()
	if err := s.Store.CreateRun(s.ctx(), spec.RunID, spec); err != nil {
		return RunTicket{}, err
	}
	s.wg.Add(1)
	go s.execute(spec)
	logger.Infof("回测任务已提交 run=%s setup=%s universe=%s", spec.RunID, spec.Setup, spec.Universe)
	return RunTicket{RunID: spec.RunID, Status: backtest.RunStatusPending, CreatedAt: time.Now().UTC()}, nil
}

func (s *Submitter) execute(spec backtest.RunSpec) {
	defer s.wg.Done()
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		_ = s.Store.FailRun(context.Background(), spec.RunID, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.Store.UpdateRunStatus(ctx, spec.RunID, backtest.RunStatusRunning, "执行中")
	res, err := s.Engine.Run(ctx, spec)
	if err != nil {
		logger.Errorf("后台回测失败 run=%s: %v", spec.RunID, err)
		_ = s.Store.FailRun(context.Background(), spec.RunID, err.Error())
		return
	}
	if err := s.Store.SaveResult(ctx, res); err != nil {
		logger.Errorf("保存回测结果失败 run=%s: %v", spec.RunID, err)
		return
	}
	if s.Exporter != nil {
		if _, err := s.Exporter.ExportRun(ctx, res); err != nil {
			logger.Warnf("导出回测工件失败 run=%s: %v", res.RunID, err)
		}
	}
	if s.Notifier != nil {
		s.Notifier.NotifyRun(res)
	}
}

// Wait 等待在途任务收尾，超时则放弃。
func (s *Submitter) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warnf("等待在途回测超时（%s）", timeout)
	}
}
