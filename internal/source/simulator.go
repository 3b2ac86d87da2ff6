package source

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"ai_receptionist/internal/types"
)

// SimulatorConfig 模拟来电配置
type SimulatorConfig struct {
	Callers     []types.Caller
	MinInterval time.Duration
	MaxInterval time.Duration
	RingTimeout time.Duration
}

// Simulator 按随机间隔从联系人中随机产生来电
//
// 来电振铃 RingTimeout，期间主人可通过 Answer 接听，否则发出 unanswered。
type Simulator struct {
	config  SimulatorConfig
	logger  *slog.Logger
	pick    func(n int) int
	wait    func() time.Duration
	tracker *ringTracker
	ready   chan struct{}
}

// NewSimulator 创建模拟来电源
func NewSimulator(config SimulatorConfig, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		config: config,
		logger: logger,
		pick:   rand.IntN,
		ready:  make(chan struct{}),
	}
	s.wait = s.randomInterval
	return s
}

func (s *Simulator) randomInterval() time.Duration {
	span := s.config.MaxInterval - s.config.MinInterval
	if span <= 0 {
		return s.config.MinInterval
	}
	return s.config.MinInterval + rand.N(span+1)
}

// Run 产生来电直到 ctx 结束
func (s *Simulator) Run(ctx context.Context, events chan<- types.CallEvent) error {
	if len(s.config.Callers) == 0 {
		close(events)
		return errors.New("没有可模拟的来电者")
	}

	em := newEmitter(events)
	s.tracker = newRingTracker(s.config.RingTimeout, em)
	close(s.ready)
	defer em.close()
	defer s.tracker.stop()

	s.logger.Info("模拟来电已启动", "callers", len(s.config.Callers))
	for {
		timer := time.NewTimer(s.wait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		caller := s.config.Callers[s.pick(len(s.config.Callers))]
		callID := uuid.NewString()
		s.logger.Info("模拟来电", "caller", caller.DisplayName(), "number", caller.Number, "call", callID)
		s.tracker.ring(ctx, callID, caller)
	}
}

// Answer 主人接听正在振铃的来电
func (s *Simulator) Answer(callID string) error {
	select {
	case <-s.ready:
	default:
		return ErrUnknownCall
	}
	if !s.tracker.answer(context.Background(), callID) {
		return ErrUnknownCall
	}
	return nil
}
