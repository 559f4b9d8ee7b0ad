// Package apihttp 暴露回测引擎的查询与提交 API。
package apihttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
	"github.com/eli-nuss/stratos-brain-sub001/internal/setup"
	"github.com/eli-nuss/stratos-brain-sub001/internal/universe"
)

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr      string
	registry  *setup.Registry
	resolver  *universe.Resolver
	store     *backtest.ResultStore
	submitter *Submitter
	router    *gin.Engine
}

// Config 描述 HTTP Server 的依赖。Submitter 缺席时提交接口返回 503。
type Config struct {
	Addr      string
	Registry  *setup.Registry
	Resolver  *universe.Resolver
	Store     *backtest.ResultStore
	Submitter *Submitter
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("结果存储不能为空")
	}
	if cfg.Registry == nil {
		return nil, errors.New("setup 注册表不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		store:     cfg.Store,
		submitter: cfg.Submitter,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

// Router 暴露底层 handler，测试直接对它发请求。
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api")
	api.GET("/setups", s.handleSetups)
	api.GET("/universes", s.handleUniverses)

	bt := api.Group("/backtest")
	bt.POST("/runs", s.handleRunSubmit)
	bt.GET("/runs", s.handleRunList)
	bt.GET("/runs/:id", s.handleRunDetail)
	bt.GET("/runs/:id/trades", s.handleRunTrades)
	bt.GET("/grids", s.handleGridList)
	bt.GET("/grids/:id", s.handleGridDetail)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSetups(c *gin.Context) {
	snap := s.registry.Snapshot()
	out := make([]gin.H, 0, len(snap.Setups))
	for _, name := range s.registry.Names() {
		def := snap.Setups[name]
		out = append(out, gin.H{
			"name":         def.Name,
			"category":     def.Category,
			"description":  def.Description,
			"entry_timing": def.EntryTiming,
			"conditions":   len(def.EntryConditions),
		})
	}
	c.JSON(http.StatusOK, gin.H{"setups": out, "version": snap.Version})
}

func (s *Server) handleUniverses(c *gin.Context) {
	if s.resolver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "标的池解析器未启用"})
		return
	}
	names := s.resolver.Names()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		def, ok := s.resolver.Get(name)
		if !ok {
			continue
		}
		item := gin.H{"name": def.Name, "kind": def.Kind}
		switch def.Kind {
		case universe.KindFixed:
			item["members"] = len(def.Members)
		case universe.KindTopTurnover:
			item["asset_class"] = def.AssetClass
			item["size"] = def.Size
			item["window_days"] = def.WindowDays
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"universes": out})
}

func (s *Server) handleRunSubmit(c *gin.Context) {
	if s.submitter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "提交通道未启用"})
		return
	}
	var req struct {
		Setup    string             `json:"setup" binding:"required"`
		Universe string             `json:"universe" binding:"required"`
		Start    string             `json:"start" binding:"required"`
		End      string             `json:"end" binding:"required"`
		Params   map[string]float64 `json:"params"`
		TieBreak string             `json:"tie_break"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := market.ParseDate(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := market.ParseDate(req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.registry.Get(req.Setup); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知 setup: %s", req.Setup)})
		return
	}
	if s.resolver != nil {
		if _, ok := s.resolver.Get(req.Universe); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知 universe: %s", req.Universe)})
			return
		}
	}
	switch req.TieBreak {
	case "", config.TieBreakStopFirst, config.TieBreakTargetFirst:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("tie_break %q 非法", req.TieBreak)})
		return
	}

	ticket, err := s.submitter.Submit(backtest.RunSpec{
		Setup:    req.Setup,
		Universe: req.Universe,
		Start:    start,
		End:      end,
		Params:   req.Params,
		TieBreak: req.TieBreak,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": ticket})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	runs, err := s.store.Runs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.store.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, backtest.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Run(c.Request.Context(), id); err != nil {
		if errors.Is(err, backtest.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	trades, err := s.store.RunTrades(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleGridList(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	grids, err := s.store.Grids(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"grids": grids})
}

func (s *Server) handleGridDetail(c *gin.Context) {
	id := c.Param("id")
	rows, err := s.store.GridRows(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("网格 %s 不存在", id)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"grid_id": id, "rows": rows})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		if s.submitter != nil {
			s.submitter.Wait(10 * time.Second)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
