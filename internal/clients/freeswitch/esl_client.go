package freeswitch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotConnected 尚未连接
var ErrNotConnected = errors.New("未连接")

// ESLConfig ESL客户端配置
type ESLConfig struct {
	Host        string
	Port        int
	Password    string
	DialTimeout time.Duration
}

// ESLClient FreeSWITCH 事件套接字客户端
//
// Connect 完成认证，Subscribe 订阅事件，Listen 在调用方协程中按顺序分发事件。
type ESLClient struct {
	config   ESLConfig
	conn     net.Conn
	reader   *bufio.Reader
	handlers map[string]EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// EventHandler 事件处理函数类型
type EventHandler func(headers map[string]string) error

// NewESLClient 创建新的ESL客户端
func NewESLClient(config ESLConfig, logger *slog.Logger) *ESLClient {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	return &ESLClient{
		config:   config,
		handlers: make(map[string]EventHandler),
		logger:   logger,
	}
}

// Connect 连接到FreeSWITCH并认证
func (c *ESLClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)

	// 读取欢迎信息
	headers, err := c.readHeaders()
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("读取欢迎信息失败: %w", err)
	}
	if headers["Content-Type"] != "auth/request" {
		c.closeLocked()
		return fmt.Errorf("未收到认证请求: %s", headers["Content-Type"])
	}

	if _, err := fmt.Fprintf(c.conn, "auth %s\n\n", c.config.Password); err != nil {
		c.closeLocked()
		return fmt.Errorf("发送认证失败: %w", err)
	}

	headers, err = c.readHeaders()
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("读取认证响应失败: %w", err)
	}
	if !strings.HasPrefix(headers["Reply-Text"], "+OK") {
		c.closeLocked()
		return fmt.Errorf("认证失败: %s", headers["Reply-Text"])
	}

	c.logger.Info("FreeSWITCH 认证成功", "addr", addr)
	return nil
}

// Close 关闭连接
func (c *ESLClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *ESLClient) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Subscribe 订阅指定事件，必须在 Listen 之前调用
func (c *ESLClient) Subscribe(events ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	cmd := "event plain " + strings.Join(events, " ") + "\n\n"
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("订阅事件失败: %w", err)
	}

	headers, err := c.readHeaders()
	if err != nil {
		return fmt.Errorf("读取订阅响应失败: %w", err)
	}
	if !strings.HasPrefix(headers["Reply-Text"], "+OK") {
		return fmt.Errorf("订阅失败: %s", headers["Reply-Text"])
	}

	c.logger.Info("事件订阅成功", "events", events)
	return nil
}

// RegisterHandler 注册事件处理器
func (c *ESLClient) RegisterHandler(eventName string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventName] = handler
}

// Listen 读取并分发事件，直到连接断开或 ctx 结束
//
// ctx 结束时返回 nil，连接断开时返回错误。
func (c *ESLClient) Listen(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		headers, err := c.readEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取事件失败: %w", err)
		}

		switch headers["Content-Type"] {
		case "text/disconnect-notice":
			return fmt.Errorf("FreeSWITCH 主动断开连接")
		case "text/event-plain":
			c.handleEvent(headers)
		}
	}
}

// readHeaders 读取ESL头部
func (c *ESLClient) readHeaders() (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if len(headers) == 0 {
				continue
			}
			return headers, nil
		}
		if key, value, ok := strings.Cut(line, ": "); ok {
			headers[key] = value
		}
	}
}

// readEvent 读取一帧，事件体中的头部合并到结果中
func (c *ESLClient) readEvent() (map[string]string, error) {
	headers, err := c.readHeaders()
	if err != nil {
		return nil, err
	}

	lenStr, ok := headers["Content-Length"]
	if !ok {
		return headers, nil
	}
	length, err := strconv.Atoi(lenStr)
	if err != nil || length <= 0 {
		return headers, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("读取事件体失败: %w", err)
	}

	for _, line := range strings.Split(string(body), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ": ")
		if !ok {
			continue
		}
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		if key == "Content-Type" {
			// 保留外层帧类型
			continue
		}
		headers[key] = value
	}
	return headers, nil
}

// handleEvent 按事件名分发
func (c *ESLClient) handleEvent(headers map[string]string) {
	eventName, ok := headers["Event-Name"]
	if !ok {
		return
	}

	c.mu.RLock()
	handler, exists := c.handlers[eventName]
	c.mu.RUnlock()
	if !exists {
		return
	}

	if err := handler(headers); err != nil {
		c.logger.Warn("事件处理失败", "event", eventName, "err", err)
		return
	}
	c.logger.Debug("成功处理事件", "event", eventName)
}
