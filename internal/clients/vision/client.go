// Package vision 提供外部状态识别服务（摄像头/设备活动分析）的HTTP客户端
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ai_receptionist/internal/types"
)

// Config 视觉服务客户端配置
type Config struct {
	Host    string        // 服务地址（完整URL）
	Timeout time.Duration // 单次请求超时
}

// ClassifyResponse 识别结果
type ClassifyResponse struct {
	Condition  string  `json:"condition"`            // 状态标签
	Confidence float64 `json:"confidence,omitempty"` // 置信度
	Camera     bool    `json:"camera"`               // 摄像头是否可用
	FaceFound  bool    `json:"face_found"`           // 是否检测到人脸
	EyesClosed bool    `json:"eyes_closed"`          // 是否闭眼
	DeviceBusy bool    `json:"device_busy"`          // 设备是否正在使用
}

// Label 由原始信号推导状态：设备活跃优先，其次摄像头
func (r ClassifyResponse) Label() types.Condition {
	if r.Condition != "" {
		return types.ParseCondition(r.Condition)
	}
	switch {
	case r.DeviceBusy:
		return types.ConditionActive
	case !r.Camera:
		return types.ConditionUnknown
	case !r.FaceFound:
		return types.ConditionAway
	case r.EyesClosed:
		return types.ConditionSleeping
	default:
		return types.ConditionBusy
	}
}

// Client 视觉服务客户端
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewClient 创建新的视觉服务客户端
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Detect 请求一次识别
func (c *Client) Detect(ctx context.Context) (*ClassifyResponse, error) {
	url := fmt.Sprintf("%s/api/classify", strings.TrimRight(c.config.Host, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("服务器返回错误: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &out, nil
}

// Classify 实现状态识别器接口，失败时返回 unknown
func (c *Client) Classify(ctx context.Context) types.Condition {
	res, err := c.Detect(ctx)
	if err != nil {
		c.logger.Warn("状态识别失败，按 unknown 处理", "err", err)
		return types.ConditionUnknown
	}
	return res.Label()
}

// Static 固定标签识别器，用于模拟与测试
type Static struct {
	Label types.Condition
}

// Classify 返回固定标签
func (s Static) Classify(context.Context) types.Condition {
	if s.Label == "" {
		return types.ConditionUnknown
	}
	return s.Label
}
