// Package feedback 收集主人对一次代接的反馈
package feedback

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoPending 没有等待反馈的会话
var ErrNoPending = errors.New("没有等待反馈的会话")

// Request 等待中的反馈请求
type Request struct {
	SessionID string    `json:"session_id"`
	Prompt    string    `json:"prompt"`
	Since     time.Time `json:"since"`
	reply     chan string
}

// Inbox 反馈收件箱
//
// 会话调用 AskFeedback 挂起等待，HTTP 接口或终端输入通过 Deliver 投递。
// 超时视为空反馈。
type Inbox struct {
	timeout time.Duration
	mu      sync.Mutex
	pending []*Request
	notify  func(req Request)
}

// NewInbox 创建收件箱
func NewInbox(timeout time.Duration) *Inbox {
	return &Inbox{timeout: timeout}
}

// OnRequest 注册新请求通知（用于提示主人），需在启动前设置
func (b *Inbox) OnRequest(fn func(req Request)) {
	b.notify = fn
}

// AskFeedback 等待一次反馈
func (b *Inbox) AskFeedback(ctx context.Context, sessionID, prompt string) (string, error) {
	req := &Request{SessionID: sessionID, Prompt: prompt, Since: time.Now(), reply: make(chan string, 1)}

	b.mu.Lock()
	b.pending = append(b.pending, req)
	b.mu.Unlock()
	defer b.remove(req)

	if b.notify != nil {
		b.notify(*req)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case text := <-req.reply:
		return text, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Deliver 投递反馈，sessionID 为空时投递给最早的请求
func (b *Inbox) Deliver(sessionID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, req := range b.pending {
		if sessionID != "" && req.SessionID != sessionID {
			continue
		}
		b.pending = append(b.pending[:i], b.pending[i+1:]...)
		req.reply <- text
		return nil
	}
	return ErrNoPending
}

// Pending 返回等待中的请求
func (b *Inbox) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.pending))
	for _, req := range b.pending {
		out = append(out, *req)
	}
	return out
}

func (b *Inbox) remove(target *Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, req := range b.pending {
		if req == target {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}
