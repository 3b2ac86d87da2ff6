package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai_receptionist/internal/metrics"
	"ai_receptionist/internal/models"
	"ai_receptionist/internal/types"
)

var (
	// ErrPersist 留言保存失败，会话终止
	ErrPersist = errors.New("保存留言失败")
	// ErrSessionAborted 会话被取消
	ErrSessionAborted = errors.New("会话已中止")
	// ErrInvalidTransition 状态跳转不合法
	ErrInvalidTransition = errors.New("非法的会话状态跳转")
)

// 会话固定话术
const (
	feedbackPrompt = "Did Neo respond correctly? (type correct response or leave blank to skip)"
	learnedAck     = "Noted your feedback. I will remember this for next time."
	closingPhrase  = "Message recorded successfully. Goodbye!"
)

// PhrasePicker 按主人状态挑选播报话术
type PhrasePicker interface {
	Pick(condition types.Condition) string
}

// DialogConfig 对话会话配置
type DialogConfig struct {
	CaptureDuration    time.Duration
	MaxCollectDuration time.Duration // 0 表示不限
	StopTokens         []string
	RetryDelay         time.Duration // 录音失败后的等待
}

// Transition 一次状态跳转
type Transition struct {
	From types.SessionState `json:"from"`
	To   types.SessionState `json:"to"`
	At   time.Time          `json:"at"`
}

// DialogSession 一次代接会话，只由运行它的协程访问
type DialogSession struct {
	ID          string             `json:"id"`
	Caller      types.Caller       `json:"caller"`
	Condition   types.Condition    `json:"condition"`
	State       types.SessionState `json:"state"`
	Transcript  []string           `json:"transcript,omitempty"`
	Message     types.Message      `json:"message"`
	Feedback    string             `json:"feedback,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	Transitions []Transition       `json:"transitions,omitempty"`
}

// Text 返回拼接后的留言
func (s *DialogSession) Text() string {
	return strings.Join(s.Transcript, " ")
}

// nextStates 合法的状态跳转
var nextStates = map[types.SessionState][]types.SessionState{
	types.StateAnnounce: {types.StateGreet},
	types.StateGreet:    {types.StateCollect},
	types.StateCollect:  {types.StatePersist},
	types.StatePersist:  {types.StateFeedback},
	types.StateFeedback: {types.StateLearn, types.StateClosed},
	types.StateLearn:    {types.StateClosed},
}

func (s *DialogSession) moveTo(to types.SessionState, at time.Time) error {
	for _, allowed := range nextStates[s.State] {
		if allowed == to {
			s.Transitions = append(s.Transitions, Transition{From: s.State, To: to, At: at})
			s.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
}

// DialogService 驱动代接会话状态机
//
// 状态顺序固定：Announce -> Greet -> Collect -> Persist -> Feedback -> [Learn] -> Closed。
type DialogService struct {
	config    DialogConfig
	phrases   PhrasePicker
	voice     models.VoiceGateway
	messages  models.MessageStore
	responses models.ResponseStore
	feedback  models.FeedbackSource
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.RWMutex
	onState    func(session DialogSession)
	stopTokens []string
}

// NewDialogService 创建会话服务，voice 应当是共享输出设备
func NewDialogService(
	config DialogConfig,
	phrases PhrasePicker,
	voice models.VoiceGateway,
	messages models.MessageStore,
	responses models.ResponseStore,
	feedback models.FeedbackSource,
	logger *slog.Logger,
) *DialogService {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	tokens := make([]string, 0, len(config.StopTokens))
	for _, t := range config.StopTokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return &DialogService{
		config:     config,
		phrases:    phrases,
		voice:      voice,
		messages:   messages,
		responses:  responses,
		feedback:   feedback,
		now:        time.Now,
		logger:     logger,
		stopTokens: tokens,
	}
}

// OnStateChange 注册状态变化回调
func (s *DialogService) OnStateChange(fn func(session DialogSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// Run 为一次来电运行完整会话，返回到达的终态
//
// sessionID 为空时自动生成。Persist 失败返回包装的 ErrPersist。
func (s *DialogService) Run(ctx context.Context, sessionID string, caller types.Caller, condition types.Condition) (*DialogSession, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session := &DialogSession{
		ID:        sessionID,
		Caller:    caller,
		Condition: condition,
		State:     types.StateAnnounce,
		StartedAt: s.now(),
	}
	log := s.logger.With("session", sessionID, "caller", caller.DisplayName())
	log.Info("开始代接会话", "condition", condition)
	s.notify(session)

	err := s.run(ctx, session, log)
	metrics.SessionDuration.Observe(s.now().Sub(session.StartedAt).Seconds())
	if err != nil {
		metrics.Sessions.WithLabelValues(metrics.ResultFailed).Inc()
		log.Error("代接会话失败", "state", session.State, "err", err)
		return session, err
	}
	metrics.Sessions.WithLabelValues(metrics.ResultCompleted).Inc()
	log.Info("代接会话结束", "message", session.Message.Text)
	return session, nil
}

func (s *DialogService) run(ctx context.Context, session *DialogSession, log *slog.Logger) error {
	// Announce
	announce := fmt.Sprintf("Detected that Sir is %s. %s", session.Condition, s.phrases.Pick(session.Condition))
	s.say(ctx, log, announce)
	if err := s.advance(ctx, session, types.StateGreet); err != nil {
		return err
	}

	// Greet
	if learned, ok := s.responses.Get(session.Caller.Key(), string(session.Condition)); ok {
		s.say(ctx, log, learned)
	}
	if err := s.advance(ctx, session, types.StateCollect); err != nil {
		return err
	}

	// Collect
	s.say(ctx, log, s.collectPrompt())
	if err := s.collect(ctx, session, log); err != nil {
		return err
	}
	if err := s.advance(ctx, session, types.StatePersist); err != nil {
		return err
	}

	// Persist
	session.Message = types.Message{
		ID:        uuid.NewString(),
		Caller:    session.Caller,
		Text:      session.Text(),
		Condition: session.Condition,
		Timestamp: s.now(),
	}
	if err := s.messages.AppendMessage(ctx, session.Message); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := s.advance(ctx, session, types.StateFeedback); err != nil {
		return err
	}

	// Feedback
	feedback, err := s.feedback.AskFeedback(ctx, session.ID, feedbackPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrSessionAborted, ctx.Err())
		}
		log.Warn("获取反馈失败，按空反馈处理", "err", err)
		feedback = ""
	}
	session.Feedback = strings.TrimSpace(feedback)

	// Learn
	if session.Feedback != "" {
		if err := s.advance(ctx, session, types.StateLearn); err != nil {
			return err
		}
		if err := s.responses.Put(session.Caller.Key(), string(session.Condition), session.Feedback); err != nil {
			log.Warn("保存学习话术失败", "err", err)
		} else {
			s.say(ctx, log, learnedAck)
		}
	}

	// Closed
	if err := s.advance(ctx, session, types.StateClosed); err != nil {
		return err
	}
	s.say(ctx, log, closingPhrase)
	return nil
}

// collect 反复录音直到听到结束词
//
// 含结束词的那句整句丢弃，空结果跳过。
func (s *DialogService) collect(ctx context.Context, session *DialogSession, log *slog.Logger) error {
	var deadline time.Time
	if s.config.MaxCollectDuration > 0 {
		deadline = s.now().Add(s.config.MaxCollectDuration)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrSessionAborted, err)
		}
		if !deadline.IsZero() && !s.now().Before(deadline) {
			log.Warn("留言收集超时，保存已收到的内容", "utterances", len(session.Transcript))
			return nil
		}

		line, err := s.voice.Capture(ctx, s.config.CaptureDuration)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn("录音失败", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(s.config.RetryDelay):
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.isStop(line) {
			return nil
		}
		session.Transcript = append(session.Transcript, line)
	}
}

func (s *DialogService) isStop(line string) bool {
	lower := strings.ToLower(line)
	for _, token := range s.stopTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// collectPrompt 提示来电者留言，结束词来自配置
func (s *DialogService) collectPrompt() string {
	quoted := make([]string, len(s.stopTokens))
	for i, t := range s.stopTokens {
		quoted[i] = "'" + t + "'"
	}
	var list string
	switch n := len(quoted); n {
	case 0:
		return "Please tell your message."
	case 1:
		list = quoted[0]
	case 2:
		list = quoted[0] + " or " + quoted[1]
	default:
		list = strings.Join(quoted[:n-1], ", ") + ", or " + quoted[n-1]
	}
	return fmt.Sprintf("Please tell your message. Say %s to stop.", list)
}

// say 播报失败不终止会话
func (s *DialogService) say(ctx context.Context, log *slog.Logger, text string) {
	if err := s.voice.Speak(ctx, text); err != nil && ctx.Err() == nil {
		log.Warn("播报失败", "text", text, "err", err)
	}
}

func (s *DialogService) advance(ctx context.Context, session *DialogSession, to types.SessionState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionAborted, err)
	}
	if err := session.moveTo(to, s.now()); err != nil {
		return err
	}
	s.notify(session)
	return nil
}

func (s *DialogService) notify(session *DialogSession) {
	s.mu.RLock()
	fn := s.onState
	s.mu.RUnlock()
	if fn != nil {
		snapshot := *session
		snapshot.Transcript = append([]string(nil), session.Transcript...)
		snapshot.Transitions = append([]Transition(nil), session.Transitions...)
		fn(snapshot)
	}
}
