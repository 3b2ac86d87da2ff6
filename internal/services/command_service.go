package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"ai_receptionist/internal/metrics"
	"ai_receptionist/internal/models"
)

// 主人指令的固定回复
const (
	rememberAck   = "Okay Sir, I'll remember that."
	greetingReply = "Hello Sir, how may I assist you?"
	fallbackReply = "I didn't understand that, Sir. I'll try to learn it next time."
)

var greetings = []string{"hello", "hi", "hey neo"}

// Reporter 留言播报
type Reporter interface {
	GiveReport(ctx context.Context) error
}

// CommandConfig 主人指令监听配置
type CommandConfig struct {
	CaptureDuration time.Duration // 每次录音时长
	SilenceLimit    int           // 连续静音超过该次数后休眠
	SilenceBackoff  time.Duration // 静音休眠时长
	FallbackPause   time.Duration // 未识别指令后的停顿
	BusyPoll        time.Duration // 来电处理中时的让出间隔
}

// CommandService 监听主人的语音指令
type CommandService struct {
	config    CommandConfig
	voice     models.VoiceGateway
	responses models.ResponseStore
	reporter  Reporter
	busy      func() bool
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration)

	last    string
	silence int
}

// NewCommandService 创建指令监听服务
func NewCommandService(config CommandConfig, voice models.VoiceGateway, responses models.ResponseStore, reporter Reporter, logger *slog.Logger) *CommandService {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CaptureDuration <= 0 {
		config.CaptureDuration = 5 * time.Second
	}
	if config.SilenceLimit <= 0 {
		config.SilenceLimit = 3
	}
	if config.SilenceBackoff <= 0 {
		config.SilenceBackoff = 5 * time.Second
	}
	if config.FallbackPause <= 0 {
		config.FallbackPause = 3 * time.Second
	}
	if config.BusyPoll <= 0 {
		config.BusyPoll = time.Second
	}
	return &CommandService{
		config:    config,
		voice:     voice,
		responses: responses,
		reporter:  reporter,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// SetBusy 设置占线判断，返回 true 时暂停录音，把麦克风让给代接会话
func (s *CommandService) SetBusy(fn func() bool) {
	s.busy = fn
}

// Run 循环监听直到 ctx 结束，单次失败只记录日志
func (s *CommandService) Run(ctx context.Context) error {
	s.logger.Info("主人指令监听已启动")
	for ctx.Err() == nil {
		if s.busy != nil && s.busy() {
			s.sleep(ctx, s.config.BusyPoll)
			continue
		}

		text, err := s.voice.Capture(ctx, s.config.CaptureDuration)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.MonitorErrors.WithLabelValues("command").Inc()
			s.logger.Warn("录音失败", "err", err)
			s.sleep(ctx, s.config.SilenceBackoff)
			continue
		}
		// 录音期间来电已接入，这句话属于代接会话
		if s.busy != nil && s.busy() {
			s.logger.Debug("来电处理中，丢弃指令录音", "text", text)
			continue
		}
		s.Step(ctx, text)
	}
	return nil
}

// Step 处理一次录音结果
func (s *CommandService) Step(ctx context.Context, text string) {
	raw := strings.TrimSpace(text)
	command := strings.ToLower(raw)
	if command == "" {
		s.silence++
		if s.silence > s.config.SilenceLimit {
			s.silence = 0
			s.sleep(ctx, s.config.SilenceBackoff)
		}
		return
	}
	s.silence = 0

	// 同一句话只处理一次
	if command == s.last {
		return
	}
	s.last = command

	if err := s.HandleCommand(ctx, raw); err != nil {
		metrics.MonitorErrors.WithLabelValues("command").Inc()
		s.logger.Error("处理主人指令失败", "command", command, "err", err)
	}
}

// HandleCommand 执行一条主人指令
//
// 匹配不区分大小写，记住的话术保留原样。panic 会被转换为错误返回。
func (s *CommandService) HandleCommand(ctx context.Context, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("处理主人指令发生panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("处理主人指令发生panic: %v", r)
		}
	}()

	raw := strings.TrimSpace(text)
	command := strings.ToLower(raw)
	log := s.logger.With("command", command)

	switch {
	case strings.Contains(command, "report"):
		log.Info("主人要求播报留言")
		return s.reporter.GiveReport(ctx)

	case strings.Contains(command, teachPrefix):
		phrase, ok := ParseTeach(raw)
		if !ok {
			return s.voice.Speak(ctx, fallbackReply)
		}
		if err := s.voice.Speak(ctx, rememberAck); err != nil {
			log.Warn("播报失败", "err", err)
		}
		if err := s.responses.Put("sir", "instruction", phrase); err != nil {
			return err
		}
		log.Info("已记住主人的话术", "phrase", phrase)
		return nil

	case containsAny(command, greetings):
		return s.voice.Speak(ctx, greetingReply)

	default:
		err := s.voice.Speak(ctx, fallbackReply)
		s.sleep(ctx, s.config.FallbackPause)
		return err
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
