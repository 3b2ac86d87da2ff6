// Package source 提供来电事件源：模拟来电、手动注入、FreeSWITCH 与 PCAP 回放
package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ai_receptionist/internal/models"
	"ai_receptionist/internal/types"
)

// ErrUnknownCall 没有正在振铃的该通来电
var ErrUnknownCall = errors.New("没有正在振铃的来电")

// Answerer 主人接听来电
type Answerer interface {
	Answer(callID string) error
}

// Answerers 依次尝试多个来电源，返回第一个认识该来电的结果
type Answerers []Answerer

// Answer 接听来电
func (a Answerers) Answer(callID string) error {
	for _, answerer := range a {
		if answerer == nil {
			continue
		}
		err := answerer.Answer(callID)
		if !errors.Is(err, ErrUnknownCall) {
			return err
		}
	}
	return ErrUnknownCall
}

// Merge 运行所有来电源并把事件汇入 out，全部结束后关闭 out
//
// 单个来电源出错只记录日志，不影响其它来电源。
func Merge(ctx context.Context, out chan<- types.CallEvent, logger *slog.Logger, sources ...models.CallSource) {
	if logger == nil {
		logger = slog.Default()
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		ch := make(chan types.CallEvent)
		wg.Add(2)
		go func(src models.CallSource) {
			defer wg.Done()
			if err := src.Run(ctx, ch); err != nil {
				logger.Error("来电源退出", "err", err)
			}
		}(src)
		go func() {
			defer wg.Done()
			for ev := range ch {
				select {
				case out <- ev:
				case <-ctx.Done():
				}
			}
		}()
	}
	wg.Wait()
	close(out)
}

// emitter 串行化事件发送，关闭后丢弃新事件
type emitter struct {
	mu     sync.Mutex
	out    chan<- types.CallEvent
	closed bool
	now    func() time.Time
}

func newEmitter(out chan<- types.CallEvent) *emitter {
	return &emitter{out: out, now: time.Now}
}

func (e *emitter) emit(ctx context.Context, callID string, caller types.Caller, kind types.EventKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	ev := types.CallEvent{CallID: callID, Caller: caller, Kind: kind, Timestamp: e.now()}
	select {
	case e.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.out)
	}
}

// ringingCall 正在振铃的来电
type ringingCall struct {
	caller types.Caller
	timer  *time.Timer
}

// ringTracker 跟踪振铃中的来电，超时未接的来电发出 unanswered
type ringTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	calls   map[string]*ringingCall
	emitter *emitter
}

func newRingTracker(timeout time.Duration, e *emitter) *ringTracker {
	return &ringTracker{timeout: timeout, calls: make(map[string]*ringingCall), emitter: e}
}

// ring 开始振铃，同一通来电重复振铃会被忽略
func (t *ringTracker) ring(ctx context.Context, callID string, caller types.Caller) bool {
	t.mu.Lock()
	if _, exists := t.calls[callID]; exists {
		t.mu.Unlock()
		return false
	}
	defer t.mu.Unlock()

	// started 必须先于超时事件发出
	call := &ringingCall{caller: caller}
	t.calls[callID] = call
	t.emitter.emit(ctx, callID, caller, types.EventStarted)
	call.timer = time.AfterFunc(t.timeout, func() { t.miss(ctx, callID) })
	return true
}

// answer 主人接听，返回是否找到振铃中的来电
func (t *ringTracker) answer(ctx context.Context, callID string) bool {
	call, ok := t.take(callID)
	if !ok {
		return false
	}
	t.emitter.emit(ctx, callID, call.caller, types.EventAnswered)
	return true
}

// miss 挂断或超时，未接听的来电发出 unanswered
func (t *ringTracker) miss(ctx context.Context, callID string) {
	call, ok := t.take(callID)
	if !ok {
		return
	}
	t.emitter.emit(ctx, callID, call.caller, types.EventUnanswered)
}

func (t *ringTracker) take(callID string) (*ringingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[callID]
	if !ok {
		return nil, false
	}
	call.timer.Stop()
	delete(t.calls, callID)
	return call, true
}

// stop 停止所有计时器
func (t *ringTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, call := range t.calls {
		call.timer.Stop()
		delete(t.calls, id)
	}
}

// pending 返回振铃中的来电数
func (t *ringTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
