package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"ai_receptionist/internal/metrics"
	"ai_receptionist/internal/models"
	"ai_receptionist/internal/types"
)

// SessionRunner 运行一次代接会话
type SessionRunner interface {
	Run(ctx context.Context, sessionID string, caller types.Caller, condition types.Condition) (*DialogSession, error)
}

// EventPublisher 对外推送分诊事件
type EventPublisher interface {
	Publish(kind string, payload any)
}

// 推送的事件类型
const (
	EventCall      = "call"
	EventDuplicate = "duplicate"
	EventCondition = "condition"
	EventAlert     = "alert"
	EventSession   = "session"
	EventReleased  = "released"
)

// CallService 来电分诊编排器
//
// 单个循环按到达顺序消费事件并做去重，每个被受理的来电在独立协程里
// 完成识别、告警计数和代接会话。
type CallService struct {
	grace      time.Duration
	registry   *ActiveCallRegistry
	classifier models.Classifier
	detector   *AlertDetector
	sessions   SessionRunner
	logger     *slog.Logger
	publisher  EventPublisher

	wg sync.WaitGroup
}

// NewCallService 创建编排器
func NewCallService(
	grace time.Duration,
	registry *ActiveCallRegistry,
	classifier models.Classifier,
	detector *AlertDetector,
	sessions SessionRunner,
	logger *slog.Logger,
) *CallService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallService{
		grace:      grace,
		registry:   registry,
		classifier: classifier,
		detector:   detector,
		sessions:   sessions,
		logger:     logger,
	}
}

// SetPublisher 设置事件推送，需在 Run 之前调用
func (s *CallService) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// Registry 返回活动来电表
func (s *CallService) Registry() *ActiveCallRegistry {
	return s.registry
}

// Run 消费来电事件直到 ctx 结束或事件通道关闭
func (s *CallService) Run(ctx context.Context, events <-chan types.CallEvent) error {
	s.logger.Info("来电分诊已启动", "grace", s.grace)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ctx, ev)
		}
	}
}

// Handle 处理一个事件，返回是否受理了新的来电
func (s *CallService) Handle(ctx context.Context, ev types.CallEvent) bool {
	metrics.CallEvents.WithLabelValues(ev.Kind.String()).Inc()
	log := s.logger.With("call", ev.CallID, "caller", ev.Caller.DisplayName(), "number", ev.Caller.Number)

	switch ev.Kind {
	case types.EventUnanswered:
		// 未接来电只计数
		log.Info("未接来电")
		s.recordCall(ctx, ev)
		return false
	case types.EventStarted, types.EventAnswered:
	default:
		log.Warn("未知事件类型", "kind", int(ev.Kind))
		return false
	}

	entry, ok := s.registry.TryAcquire(ev.Caller, ev.CallID)
	if !ok {
		metrics.DuplicateCalls.Inc()
		log.Debug("来电正在处理中，忽略", "kind", ev.Kind)
		s.publish(EventDuplicate, ev)
		return false
	}

	log.Info("受理来电", "kind", ev.Kind, "session", entry.SessionID)
	s.publish(EventCall, ev)

	s.wg.Add(1)
	go s.triage(ctx, ev, entry, log)
	return true
}

// triage 识别主人状态并按需代接，任何情况下都会释放去重条目
func (s *CallService) triage(ctx context.Context, ev types.CallEvent, entry *ActiveCallEntry, log *slog.Logger) {
	release := s.grace
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.Sessions.WithLabelValues(metrics.ResultFailed).Inc()
			log.Error("来电处理发生panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		s.registry.Release(entry, release)
		s.publish(EventReleased, map[string]any{"key": entry.Key, "after": release.String()})
	}()

	condition := s.classifier.Classify(ctx)
	metrics.Conditions.WithLabelValues(string(condition)).Inc()
	log.Info("主人状态", "condition", condition)
	s.publish(EventCondition, map[string]any{"call_id": ev.CallID, "condition": condition})

	s.recordCall(ctx, ev)

	if !condition.NeedsIntervention() {
		log.Info("主人正在使用设备，保持静默")
		metrics.Sessions.WithLabelValues(metrics.ResultSkipped).Inc()
		release = 0
		return
	}

	if _, err := s.sessions.Run(ctx, entry.SessionID, ev.Caller, condition); err != nil {
		log.Error("代接会话未完成", "err", err)
	}
}

func (s *CallService) recordCall(ctx context.Context, ev types.CallEvent) {
	if s.detector == nil {
		return
	}
	if alert, ok := s.detector.RecordCall(ctx, ev.Caller, ev.CallID); ok {
		s.publish(EventAlert, alert)
	}
}

func (s *CallService) publish(kind string, payload any) {
	if s.publisher != nil {
		s.publisher.Publish(kind, payload)
	}
}

// Wait 等待所有进行中的来电处理结束
func (s *CallService) Wait() {
	s.wg.Wait()
}
