// Package models 定义来电分诊核心依赖的外部协作者接口
package models

import (
	"context"
	"time"

	"ai_receptionist/internal/types"
)

// Classifier 主人状态识别器
//
// 无法判断时返回 types.ConditionUnknown，而不是错误。
type Classifier interface {
	Classify(ctx context.Context) types.Condition
}

// Speaker 语音输出设备，调用阻塞到播放结束
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Listener 语音采集，静音或超时返回空字符串
type Listener interface {
	Capture(ctx context.Context, duration time.Duration) (string, error)
}

// VoiceGateway 语音输入输出网关
type VoiceGateway interface {
	Speaker
	Listener
}

// MessageStore 留言持久化
type MessageStore interface {
	AppendMessage(ctx context.Context, msg types.Message) error
	ListMessages(ctx context.Context) ([]types.Message, error)
}

// AlertLog 告警持久化
type AlertLog interface {
	AppendAlert(ctx context.Context, alert types.Alert) error
}

// ResponseStore 学习到的话术存储
type ResponseStore interface {
	Get(callerID, situation string) (string, bool)
	Put(callerID, situation, phrase string) error
	GetReportPhrase(message string) (string, bool)
	LearnReportPhrase(message, phrase string) error
}

// FeedbackSource 主人反馈来源，超时返回空字符串
type FeedbackSource interface {
	AskFeedback(ctx context.Context, sessionID, prompt string) (string, error)
}

// CallSource 来电事件源
type CallSource interface {
	// Run 持续产生事件直到 ctx 结束，返回前关闭 events
	Run(ctx context.Context, events chan<- types.CallEvent) error
}
