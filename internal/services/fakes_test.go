package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai_receptionist/internal/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(d time.Duration, base time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = base.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeVoice 记录播报，按脚本返回录音结果
type fakeVoice struct {
	mu       sync.Mutex
	spoken   []string
	script   []string
	speakErr error
	gap      time.Duration
}

func (v *fakeVoice) Speak(_ context.Context, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spoken = append(v.spoken, text)
	return v.speakErr
}

func (v *fakeVoice) Capture(ctx context.Context, _ time.Duration) (string, error) {
	v.mu.Lock()
	if len(v.script) > 0 {
		line := v.script[0]
		v.script = v.script[1:]
		v.mu.Unlock()
		return line, nil
	}
	gap := v.gap
	v.mu.Unlock()

	if gap <= 0 {
		gap = 2 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(gap):
		return "", nil
	}
}

func (v *fakeVoice) Spoken() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.spoken...)
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []types.Message
	err  error
}

func (m *fakeMessages) AppendMessage(_ context.Context, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *fakeMessages) ListMessages(context.Context) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Message(nil), m.msgs...), m.err
}

type fakeResponses struct {
	mu        sync.Mutex
	responses map[string]string
	reports   map[string]string
}

func newFakeResponses() *fakeResponses {
	return &fakeResponses{responses: map[string]string{}, reports: map[string]string{}}
}

func (r *fakeResponses) Get(callerID, situation string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.responses[callerID+"|"+situation]
	return v, ok
}

func (r *fakeResponses) Put(callerID, situation, phrase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[callerID+"|"+situation] = phrase
	return nil
}

func (r *fakeResponses) GetReportPhrase(message string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.reports[message]
	return v, ok
}

func (r *fakeResponses) LearnReportPhrase(message, phrase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[message] = phrase
	return nil
}

// fakeFeedback 依次返回预设反馈，用完后返回空
type fakeFeedback struct {
	mu      sync.Mutex
	answers []string
	asked   []string
}

func (f *fakeFeedback) AskFeedback(_ context.Context, sessionID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, sessionID)
	if len(f.answers) == 0 {
		return "", nil
	}
	answer := f.answers[0]
	f.answers = f.answers[1:]
	return answer, nil
}

type fakeAlertLog struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (l *fakeAlertLog) AppendAlert(_ context.Context, alert types.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, alert)
	return nil
}

func (l *fakeAlertLog) Alerts() []types.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Alert(nil), l.alerts...)
}

type fakeClassifier struct {
	condition types.Condition
	panicMsg  string
}

func (c fakeClassifier) Classify(context.Context) types.Condition {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	return c.condition
}

// fakeRunner 记录会话调用，可阻塞直到放行
type fakeRunner struct {
	mu      sync.Mutex
	calls   []types.Caller
	err     error
	release chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, sessionID string, caller types.Caller, condition types.Condition) (*DialogSession, error) {
	r.mu.Lock()
	r.calls = append(r.calls, caller)
	release := r.release
	r.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &DialogSession{ID: sessionID, Caller: caller, Condition: condition}, r.err
}

func (r *fakeRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var errBoom = errors.New("boom")
