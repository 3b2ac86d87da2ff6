// Package voice 提供语音输入输出网关以及共享输出设备的互斥访问
package voice

import (
	"context"
	"time"

	"ai_receptionist/internal/metrics"
	"ai_receptionist/internal/models"
)

// SharedOutput 对语音设备加互斥锁
//
// 每次 Speak 只在一句话的播放期间持锁，Capture 从不持锁。
// 所有需要发声的组件都持有同一个 SharedOutput。
type SharedOutput struct {
	gateway models.VoiceGateway
	sem     chan struct{}
	onSpeak func(text string)
}

// NewSharedOutput 包装语音网关
func NewSharedOutput(gateway models.VoiceGateway) *SharedOutput {
	return &SharedOutput{gateway: gateway, sem: make(chan struct{}, 1)}
}

// OnSpeak 注册播报回调（用于事件推送），需在启动前设置
func (o *SharedOutput) OnSpeak(fn func(text string)) {
	o.onSpeak = fn
}

// Speak 独占输出设备播报一句话
func (o *SharedOutput) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	// 等锁期间允许取消
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-o.sem }()

	metrics.Utterances.Inc()
	if o.onSpeak != nil {
		o.onSpeak(text)
	}
	return o.gateway.Speak(ctx, text)
}

// Capture 录音，不占用输出锁
func (o *SharedOutput) Capture(ctx context.Context, duration time.Duration) (string, error) {
	return o.gateway.Capture(ctx, duration)
}
