package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ai_receptionist/internal/types"
)

// appendLine 追加一行，必要时创建目录
func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("写入日志文件失败: %w", err)
	}
	return nil
}

// AlertLog 告警以 JSON Lines 追加写入
type AlertLog struct {
	path string
	mu   sync.Mutex
}

// NewAlertLog 创建告警日志
func NewAlertLog(path string) *AlertLog {
	return &AlertLog{path: path}
}

// AppendAlert 追加一条告警
func (l *AlertLog) AppendAlert(_ context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLine(l.path, data)
}

// PowerLog 电量告警日志
type PowerLog struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewPowerLog 创建电量告警日志
func NewPowerLog(path string, now func() time.Time) *PowerLog {
	if now == nil {
		now = time.Now
	}
	return &PowerLog{path: path, now: now}
}

// Append 追加 "<时间> | <消息>"
func (l *PowerLog) Append(_ context.Context, msg string) error {
	line := fmt.Sprintf("%s | %s", l.now().Format(time.ANSIC), msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLine(l.path, []byte(line))
}
