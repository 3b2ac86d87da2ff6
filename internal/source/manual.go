package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai_receptionist/internal/types"
)

// ErrSourceClosed 来电源已停止
var ErrSourceClosed = errors.New("来电源已停止")

// Manual 通过 HTTP 接口手动注入来电
type Manual struct {
	ringTimeout time.Duration
	requests    chan request

	mu      sync.Mutex
	tracker *ringTracker
	ctx     context.Context
	done    chan struct{}
}

type request struct {
	callID string
	caller types.Caller
	kind   types.EventKind
	result chan error
}

// NewManual 创建手动来电源
func NewManual(ringTimeout time.Duration) *Manual {
	return &Manual{
		ringTimeout: ringTimeout,
		requests:    make(chan request),
		done:        make(chan struct{}),
	}
}

// Run 转发注入的来电直到 ctx 结束
func (m *Manual) Run(ctx context.Context, events chan<- types.CallEvent) error {
	em := newEmitter(events)
	tracker := newRingTracker(m.ringTimeout, em)
	defer em.close()
	defer tracker.stop()
	defer close(m.done)

	m.mu.Lock()
	m.tracker = tracker
	m.ctx = ctx
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-m.requests:
			req.result <- m.apply(ctx, tracker, em, req)
		}
	}
}

func (m *Manual) apply(ctx context.Context, tracker *ringTracker, em *emitter, req request) error {
	switch req.kind {
	case types.EventStarted:
		tracker.ring(ctx, req.callID, req.caller)
	case types.EventAnswered:
		if !tracker.answer(ctx, req.callID) {
			em.emit(ctx, req.callID, req.caller, types.EventAnswered)
		}
	case types.EventUnanswered:
		if call, ok := tracker.take(req.callID); ok {
			req.caller = call.caller
		}
		em.emit(ctx, req.callID, req.caller, types.EventUnanswered)
	default:
		return errors.New("未知的事件类型")
	}
	return nil
}

// Inject 注入一个事件，callID 为空时自动生成并返回
func (m *Manual) Inject(ctx context.Context, callID string, caller types.Caller, kind types.EventKind) (string, error) {
	if callID == "" {
		callID = uuid.NewString()
	}
	req := request{callID: callID, caller: caller, kind: kind, result: make(chan error, 1)}

	select {
	case m.requests <- req:
	case <-m.done:
		return "", ErrSourceClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case err := <-req.result:
		return callID, err
	case <-ctx.Done():
		return callID, ctx.Err()
	}
}

// Answer 主人接听手动注入的来电
func (m *Manual) Answer(callID string) error {
	m.mu.Lock()
	tracker, ctx := m.tracker, m.ctx
	m.mu.Unlock()
	if tracker == nil {
		return ErrUnknownCall
	}
	if !tracker.answer(ctx, callID) {
		return ErrUnknownCall
	}
	return nil
}
