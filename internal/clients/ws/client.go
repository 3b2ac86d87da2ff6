// Package ws 提供通用的WebSocket客户端实现
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotConnected 未连接
var ErrNotConnected = errors.New("WebSocket未连接")

// Envelope 消息信封，type 决定处理器，id 用于请求与响应配对
type Envelope struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Text       string `json:"text,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MessageHandler 消息处理函数类型
type MessageHandler func(msg Envelope) error

// Config WebSocket客户端配置
type Config struct {
	URL               string        // WebSocket服务器地址
	ReconnectInterval time.Duration // 重连间隔
	MaxRetries        int           // 最大重试次数
	HeartbeatInterval time.Duration // 心跳间隔
	HandshakeTimeout  time.Duration // 握手超时
}

// Client WebSocket客户端
type Client struct {
	config Config
	logger *slog.Logger

	conn     *websocket.Conn
	connLock sync.Mutex
	writeMu  sync.Mutex

	handlers   map[string]MessageHandler
	handlersMu sync.RWMutex

	pending   map[string]chan Envelope
	pendingMu sync.Mutex

	currentRetries int
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewClient 创建新的WebSocket客户端
func NewClient(config Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:   config,
		logger:   logger,
		handlers: make(map[string]MessageHandler),
		pending:  make(map[string]chan Envelope),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect 连接到WebSocket服务器
func (c *Client) Connect() error {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return fmt.Errorf("解析URL失败: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("连接WebSocket失败: %w", err)
	}

	c.conn = conn
	c.currentRetries = 0
	go c.receiveLoop(conn)
	if c.config.HeartbeatInterval > 0 {
		go c.heartbeatLoop(conn)
	}

	c.logger.Info("已连接到WebSocket服务器", "url", c.config.URL)
	return nil
}

// Close 关闭WebSocket连接
func (c *Client) Close() error {
	c.cancel()

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// RegisterHandler 注册消息处理器
func (c *Client) RegisterHandler(messageType string, handler MessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[messageType] = handler
}

// SendMessage 发送消息到服务器
func (c *Client) SendMessage(msg Envelope) error {
	c.connLock.Lock()
	conn := c.conn
	c.connLock.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("消息序列化失败: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		go c.handleConnectionError(conn)
		return fmt.Errorf("消息发送失败: %w", err)
	}
	return nil
}

// Request 发送请求并等待同 id 的响应
func (c *Client) Request(ctx context.Context, msg Envelope) (Envelope, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ch := make(chan Envelope, 1)

	c.pendingMu.Lock()
	c.pending[msg.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.SendMessage(msg); err != nil {
		return Envelope{}, err
	}

	select {
	case resp := <-ch:
		if resp.Type == "error" {
			return resp, fmt.Errorf("服务器返回错误: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-c.ctx.Done():
		return Envelope{}, ErrNotConnected
	}
}

// heartbeatLoop 定时发送 Ping
func (c *Client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.HeartbeatInterval))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("发送心跳失败", "err", err)
				go c.handleConnectionError(conn)
				return
			}
		}
	}
}

// receiveLoop 接收消息循环
func (c *Client) receiveLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.logger.Warn("接收消息失败", "err", err)
			go c.handleConnectionError(conn)
			return
		}
		c.dispatch(data)
	}
}

// dispatch 优先交给等待中的请求，其次按类型调用处理器
func (c *Client) dispatch(data []byte) {
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("解析消息失败", "err", err)
		return
	}

	if msg.ID != "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		c.pendingMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
			return
		}
	}

	c.handlersMu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.handlersMu.RUnlock()
	if ok {
		if err := handler(msg); err != nil {
			c.logger.Warn("处理消息失败", "type", msg.Type, "err", err)
		}
	}
}

// handleConnectionError 处理连接错误，只对当前连接重连一次
func (c *Client) handleConnectionError(failed *websocket.Conn) {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn != failed || c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil

	for c.currentRetries < c.config.MaxRetries {
		c.currentRetries++
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		c.logger.Info("正在尝试重新连接", "attempt", c.currentRetries)
		if err := c.connectLocked(); err != nil {
			c.logger.Warn("重新连接失败", "err", err)
			continue
		}
		return
	}
	c.logger.Error("重试次数超过最大限制，停止重连")
}
