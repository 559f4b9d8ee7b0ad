package notify

import (
	"github.com/eli-nuss/stratos-brain-sub001/internal/backtest"
	"github.com/eli-nuss/stratos-brain-sub001/internal/config"
	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"
	"github.com/eli-nuss/stratos-brain-sub001/internal/optimize"
)

// TextSender 是最小推送接口，便于在测试里替换 Telegram 实现。
type TextSender interface {
	SendText(text string) error
}

// Service 是推送的统一入口。未配置通道时所有方法都是空操作，
// 推送失败只告警，绝不影响已经完成的回测。
type Service struct {
	Sender TextSender
}

func NewService(cfg config.NotifyConfig) *Service {
	s := &Service{}
	tg := cfg.Telegram
	if tg.Enabled && tg.BotToken != "" && tg.ChatID != "" {
		s.Sender = NewTelegram(tg.BotToken, tg.ChatID)
	}
	return s
}

// Enabled 报告是否存在可用通道。
func (s *Service) Enabled() bool {
	return s != nil && s.Sender != nil
}

// NotifyRun 推送单次回测摘要。
func (s *Service) NotifyRun(res *backtest.Result) {
	if !s.Enabled() || res == nil {
		return
	}
	if err := s.Sender.SendText(RunMessage(res).RenderMarkdown()); err != nil {
		logger.Warnf("推送回测摘要失败 run=%s: %v", res.RunID, err)
	}
}

// NotifyGrid 推送网格搜索摘要。
func (s *Service) NotifyGrid(out *optimize.Outcome) {
	if !s.Enabled() || out == nil {
		return
	}
	if err := s.Sender.SendText(GridMessage(out).RenderMarkdown()); err != nil {
		logger.Warnf("推送网格摘要失败 grid=%s: %v", out.GridID, err)
	}
}
