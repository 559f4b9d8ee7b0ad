package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Writer 是历史库的写入面，SQLite 与 Postgres 两个实现都满足。
type Writer interface {
	UpsertAssets(ctx context.Context, assets []market.Asset) (int, error)
	InsertBars(ctx context.Context, bars []market.DailyBar) (int, error)
	InsertSnapshots(ctx context.Context, snaps []market.FeatureSnapshot) (int, error)
}

// ingestStore 是 ingest 服务需要的最小店面。
type ingestStore interface {
	Writer
	Coverage(ctx context.Context, assetID string) (Coverage, error)
}

// 任务状态。
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次远端日线拉取。
type FetchParams struct {
	AssetID string    `json:"asset_id"`
	Symbol  string    `json:"symbol"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Source  string    `json:"source"`
}

// FetchJob 是任务的外部快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Inserted  int         `json:"inserted"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Coverage  Coverage    `json:"coverage"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Warnings = append([]string(nil), j.Warnings...)
	return out
}

// ServiceConfig 配置 ingest Service。
type ServiceConfig struct {
	Store         ingestStore
	Sources       map[string]BarSource
	DefaultSource string
	RatePerSec    float64
	Burst         int
	MaxConcurrent int
}

// Service 管理日线拉取任务：限速、并发上限、任务快照。
type Service struct {
	store         ingestStore
	sources       map[string]BarSource
	defaultSource string

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	ratePerSec := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		ratePerSec = 4
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 2
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:         cfg.Store,
		sources:       make(map[string]BarSource),
		defaultSource: strings.ToLower(cfg.DefaultSource),
		limiter:       rate.NewLimiter(ratePerSec, burst),
		sem:           make(chan struct{}, maxConcurrent),
		jobs:          make(map[string]*FetchJob),
		baseCtx:       context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if svc.defaultSource == "" {
		for k := range svc.sources {
			svc.defaultSource = k
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) resolveSource(name string) (BarSource, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = s.defaultSource
	}
	src := s.sources[key]
	if src == nil {
		return nil, fmt.Errorf("未知数据源: %s", name)
	}
	return src, nil
}

func normalizeFetchParams(params *FetchParams) error {
	if strings.TrimSpace(params.AssetID) == "" {
		return fmt.Errorf("asset_id 不能为空")
	}
	if strings.TrimSpace(params.Symbol) == "" {
		params.Symbol = params.AssetID
	}
	if params.Start.IsZero() || params.End.IsZero() {
		return fmt.Errorf("start/end 不能为空")
	}
	params.Start, params.End = market.OrderRange(params.Start, params.End)
	return nil
}

// SubmitFetch 提交拉取任务并立即返回，拉取在后台进行。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if err := normalizeFetchParams(&params); err != nil {
		return FetchJob{}, err
	}
	src, err := s.resolveSource(params.Source)
	if err != nil {
		return FetchJob{}, err
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[ingest] 任务 %s 提交: %s [%s, %s]", job.ID, params.AssetID,
		market.FormatDate(params.Start), market.FormatDate(params.End))
	go s.runJob(job.ID, src)
	return job.copy(), nil
}

// RunFetch 同步执行一次拉取（CLI 用），完成后返回最终任务快照。
func (s *Service) RunFetch(ctx context.Context, params FetchParams) (FetchJob, error) {
	if err := normalizeFetchParams(&params); err != nil {
		return FetchJob{}, err
	}
	src, err := s.resolveSource(params.Source)
	if err != nil {
		return FetchJob{}, err
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusRunning,
		Params:    params,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.executeJob(ctx, job.ID, src)
	snap, _ := s.JobSnapshot(job.ID)
	if snap.Status == JobStatusFailed {
		return snap, fmt.Errorf("拉取 %s 失败: %s", params.AssetID, snap.Message)
	}
	return snap, nil
}

// FetchAll 并发拉取多个资产，并发度与 sem 一致；单个资产失败不中断其余。
func (s *Service) FetchAll(ctx context.Context, paramsList []FetchParams) []FetchJob {
	results := make([]FetchJob, len(paramsList))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(s.sem))
	for i, params := range paramsList {
		i, params := i, params
		g.Go(func() error {
			job, err := s.RunFetch(gctx, params)
			if err != nil {
				logger.Warnf("[ingest] %v", err)
			}
			results[i] = job
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) runJob(jobID string, src BarSource) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setJobStatus(jobID, JobStatusFailed, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.UpdatedAt = time.Now()
	})
	s.executeJob(s.ctx(), jobID, src)
}

func (s *Service) executeJob(ctx context.Context, jobID string, src BarSource) {
	job := s.getJob(jobID)
	if job == nil {
		return
	}
	params := job.Params

	if err := s.limiter.Wait(ctx); err != nil {
		s.setJobStatus(jobID, JobStatusFailed, err.Error())
		return
	}
	bars, err := src.FetchDaily(ctx, params.Symbol, params.Start, params.End)
	if err != nil {
		s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("%s 拉取失败: %v", src.Name(), err))
		return
	}
	var warnings []string
	if len(bars) == 0 {
		warnings = append(warnings, "区间内拉取为空")
	}
	for i := range bars {
		bars[i].AssetID = params.AssetID
	}
	inserted, err := s.store.InsertBars(ctx, bars)
	if err != nil {
		s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("写入失败: %v", err))
		return
	}
	cov, err := s.store.Coverage(ctx, params.AssetID)
	if err != nil {
		warnings = append(warnings, "覆盖统计失败: "+err.Error())
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusDone
		j.Message = "拉取完成"
		j.Inserted = inserted
		j.Coverage = cov
		j.Warnings = append([]string(nil), warnings...)
		j.UpdatedAt = time.Now()
	})
	logger.Infof("[ingest] 任务 %s 完成: %s 写入 %d 行", jobID, params.AssetID, inserted)
}

func (s *Service) setJobStatus(jobID, status, message string) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) getJob(id string) *FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}
