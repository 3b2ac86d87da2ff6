package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"ai_receptionist/internal/models"
)

const (
	noMessagesPhrase = "No new messages to report, Sir."
	correctionPrompt = "Sir, any correction? (type 'you have to say...' or Enter)"
	teachPrefix      = "you have to say"
)

// teachPattern 在原文上不区分大小写地查找，返回的偏移可直接切原文
var teachPattern = regexp.MustCompile("(?i)" + teachPrefix)

// ReportService 向主人播报已保存的留言
type ReportService struct {
	messages  models.MessageStore
	responses models.ResponseStore
	voice     models.Speaker
	feedback  models.FeedbackSource
	logger    *slog.Logger
}

// NewReportService 创建留言播报服务，feedback 为 nil 时不询问更正
func NewReportService(messages models.MessageStore, responses models.ResponseStore, voice models.Speaker, feedback models.FeedbackSource, logger *slog.Logger) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{
		messages:  messages,
		responses: responses,
		voice:     voice,
		feedback:  feedback,
		logger:    logger,
	}
}

// GiveReport 按保存顺序逐条播报留言，并在每条之后询问更正
//
// 更正以 "you have to say" 开头时，剩余部分作为该留言今后的播报话术。
func (r *ReportService) GiveReport(ctx context.Context) error {
	list, err := r.messages.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("读取留言失败: %w", err)
	}
	if len(list) == 0 {
		return r.voice.Speak(ctx, noMessagesPhrase)
	}

	for _, msg := range list {
		if err := ctx.Err(); err != nil {
			return err
		}

		phrase, ok := r.responses.GetReportPhrase(msg.Text)
		if !ok {
			phrase = fmt.Sprintf("%s said: %s", msg.Caller.DisplayName(), msg.Text)
		}
		if err := r.voice.Speak(ctx, phrase); err != nil {
			r.logger.Warn("播报留言失败", "message", msg.ID, "err", err)
		}

		if r.feedback == nil {
			continue
		}
		correction, err := r.feedback.AskFeedback(ctx, "report-"+msg.ID, correctionPrompt)
		if err != nil {
			r.logger.Warn("获取更正失败", "err", err)
			continue
		}
		if learned, ok := ParseTeach(correction); ok {
			if err := r.responses.LearnReportPhrase(msg.Text, learned); err != nil {
				r.logger.Warn("保存播报话术失败", "err", err)
				continue
			}
			r.logger.Info("已学习新的播报话术", "message", msg.Text, "phrase", learned)
		}
	}
	return nil
}

// ParseTeach 解析 "you have to say ..." 形式的指令，返回要记住的话术
func ParseTeach(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	loc := teachPattern.FindStringIndex(trimmed)
	if loc == nil {
		return "", false
	}
	phrase := strings.Trim(trimmed[loc[1]:], ": ")
	if phrase == "" {
		return "", false
	}
	return phrase, true
}
