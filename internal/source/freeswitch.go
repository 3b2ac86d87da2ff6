package source

import (
	"context"
	"log/slog"
	"time"

	"ai_receptionist/internal/clients/freeswitch"
	"ai_receptionist/internal/types"
)

// 订阅的 FreeSWITCH 事件
const (
	eventChannelCreate = "CHANNEL_CREATE"
	eventChannelAnswer = "CHANNEL_ANSWER"
	eventChannelHangup = "CHANNEL_HANGUP_COMPLETE"
)

// ESL FreeSWITCH 事件套接字
type ESL interface {
	Connect(ctx context.Context) error
	Subscribe(events ...string) error
	RegisterHandler(eventName string, handler freeswitch.EventHandler)
	Listen(ctx context.Context) error
	Close() error
}

// FreeSWITCH 把 FreeSWITCH 通道事件转换为来电事件
//
// CHANNEL_CREATE 对应 started，CHANNEL_ANSWER 对应 answered，
// 振铃超时或未接听就挂断对应 unanswered。断线后自动重连。
type FreeSWITCH struct {
	client      ESL
	ringTimeout time.Duration
	retry       time.Duration
	logger      *slog.Logger
}

// NewFreeSWITCH 创建 FreeSWITCH 来电源
func NewFreeSWITCH(client ESL, ringTimeout time.Duration, logger *slog.Logger) *FreeSWITCH {
	if logger == nil {
		logger = slog.Default()
	}
	return &FreeSWITCH{
		client:      client,
		ringTimeout: ringTimeout,
		retry:       5 * time.Second,
		logger:      logger,
	}
}

// WithReconnect 设置断线重连间隔
func (f *FreeSWITCH) WithReconnect(d time.Duration) *FreeSWITCH {
	if d > 0 {
		f.retry = d
	}
	return f
}

// Run 监听 FreeSWITCH 事件直到 ctx 结束
func (f *FreeSWITCH) Run(ctx context.Context, events chan<- types.CallEvent) error {
	em := newEmitter(events)
	tracker := newRingTracker(f.ringTimeout, em)
	defer em.close()
	defer tracker.stop()

	f.client.RegisterHandler(eventChannelCreate, func(h map[string]string) error {
		if dir := h["Call-Direction"]; dir != "" && dir != "inbound" {
			return nil
		}
		tracker.ring(ctx, h["Unique-ID"], callerFromHeaders(h))
		return nil
	})
	f.client.RegisterHandler(eventChannelAnswer, func(h map[string]string) error {
		tracker.answer(ctx, h["Unique-ID"])
		return nil
	})
	f.client.RegisterHandler(eventChannelHangup, func(h map[string]string) error {
		tracker.miss(ctx, h["Unique-ID"])
		return nil
	})

	for ctx.Err() == nil {
		if err := f.session(ctx); err != nil {
			f.logger.Warn("FreeSWITCH 连接中断，稍后重连", "err", err, "retry", f.retry)
		}
		select {
		case <-ctx.Done():
		case <-time.After(f.retry):
		}
	}
	return nil
}

func (f *FreeSWITCH) session(ctx context.Context) error {
	if err := f.client.Connect(ctx); err != nil {
		return err
	}
	defer f.client.Close()

	if err := f.client.Subscribe(eventChannelCreate, eventChannelAnswer, eventChannelHangup); err != nil {
		return err
	}
	return f.client.Listen(ctx)
}

func callerFromHeaders(h map[string]string) types.Caller {
	return types.Caller{
		Name:   h["Caller-Caller-ID-Name"],
		Number: h["Caller-Caller-ID-Number"],
	}
}
