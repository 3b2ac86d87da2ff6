package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ai_receptionist/internal/metrics"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event 推送给订阅者的事件
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// EventHub WebSocket 事件广播
//
// 分诊、会话状态和播报内容通过 Publish 进入广播队列，由 Run 串行写给所有订阅者。
// 队列满时丢弃事件，不阻塞发布方。
type EventHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	logger     *slog.Logger
	now        func() time.Time
}

// NewEventHub 创建事件广播
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
		now:        time.Now,
	}
}

// Run 处理订阅和广播直到 ctx 结束，结束时关闭所有连接
func (h *EventHub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			client.Close()
			delete(h.clients, client)
		}
		metrics.EventSubscribers.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.EventSubscribers.Set(float64(len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				metrics.EventSubscribers.Set(float64(len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warn("推送事件失败", "err", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			metrics.EventSubscribers.Set(float64(len(h.clients)))
		}
	}
}

// Publish 发布一条事件
func (h *EventHub) Publish(kind string, payload any) {
	data, err := json.Marshal(Event{Type: kind, Time: h.now(), Data: payload})
	if err != nil {
		h.logger.Warn("序列化事件失败", "type", kind, "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Debug("事件队列已满，丢弃事件", "type", kind)
	}
}

// HandleWebSocket 订阅事件流，客户端发来的消息被忽略
func (h *EventHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("升级WebSocket连接失败", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("读取WebSocket消息错误", "err", err)
			}
			return
		}
	}
}
