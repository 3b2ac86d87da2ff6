package voice

import (
	"context"
	"log/slog"
	"time"

	"ai_receptionist/internal/clients/ws"
)

// BridgeGateway 通过 WebSocket 语音桥完成播报与录音
//
// 协议：
//
//	-> {"type":"speak","id":..,"text":..}        <- {"type":"spoken","id":..}
//	-> {"type":"listen","id":..,"duration_ms":..} <- {"type":"result","id":..,"text":..}
//
// 任一请求可能得到 {"type":"error","id":..,"error":..}。
type BridgeGateway struct {
	client *ws.Client
	slack  time.Duration
}

// NewBridgeGateway 连接语音桥
func NewBridgeGateway(url string, logger *slog.Logger) (*BridgeGateway, error) {
	client := ws.NewClient(ws.Config{
		URL:               url,
		ReconnectInterval: 5 * time.Second,
		MaxRetries:        3,
		HeartbeatInterval: 30 * time.Second,
	}, logger)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return &BridgeGateway{client: client, slack: 5 * time.Second}, nil
}

// Close 关闭连接
func (g *BridgeGateway) Close() error {
	return g.client.Close()
}

// Speak 请求语音桥播报，阻塞到播放完毕
func (g *BridgeGateway) Speak(ctx context.Context, text string) error {
	_, err := g.client.Request(ctx, ws.Envelope{Type: "speak", Text: text})
	return err
}

// Capture 请求语音桥录音 duration 并返回识别文本
func (g *BridgeGateway) Capture(ctx context.Context, duration time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, duration+g.slack)
	defer cancel()

	resp, err := g.client.Request(ctx, ws.Envelope{Type: "listen", DurationMS: duration.Milliseconds()})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			// 语音桥没有按时返回，按静音处理
			return "", nil
		}
		return "", err
	}
	return resp.Text, nil
}
