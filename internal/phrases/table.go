// Package phrases 管理按主人状态分组的播报话术表
package phrases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"ai_receptionist/internal/types"
)

// CurrentVersion 话术表格式版本
const CurrentVersion = 1

// Document 话术表文件格式
type Document struct {
	Version    int                 `yaml:"version"`
	Conditions map[string][]string `yaml:"conditions"`
}

// DefaultDocument 内置话术
func DefaultDocument() Document {
	return Document{
		Version: CurrentVersion,
		Conditions: map[string][]string{
			string(types.ConditionUnknown): {
				"Hello! I'll take a message for you.",
				"He's not available right now, would you like to leave a message?",
				"I can record your message if you'd like.",
			},
			string(types.ConditionAway): {
				"Sir is away at the moment. Can I take a message?",
				"He stepped out for a bit. Would you like to leave a note?",
				"He'll be back soon, I can note your message.",
			},
			string(types.ConditionSleeping): {
				"Sir is sleeping right now. Would you like to leave a message?",
				"He's resting at the moment. Can I take a message?",
				"He's asleep, but I'll inform him when he wakes up.",
			},
			string(types.ConditionBusy): {
				"Sir is busy at the moment. Can I take your message?",
				"He's occupied right now. I'll make sure he gets your message.",
				"He's in the middle of something. Want to leave a note?",
			},
		},
	}
}

// Table 线程安全的话术表
type Table struct {
	mu     sync.RWMutex
	doc    Document
	pick   func(n int) int
	logger *slog.Logger
}

// NewTable 由文档创建话术表
func NewTable(doc Document, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{doc: doc, pick: rand.IntN, logger: logger}
}

// SetPicker 替换随机选择函数
func (t *Table) SetPicker(pick func(n int) int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pick = pick
}

// Version 返回当前版本
func (t *Table) Version() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.doc.Version
}

// Phrases 返回某状态的话术，没有专属条目时回落到 unknown
func (t *Table) Phrases(condition types.Condition) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if list := t.doc.Conditions[string(condition)]; len(list) > 0 {
		return append([]string(nil), list...)
	}
	return append([]string(nil), t.doc.Conditions[string(types.ConditionUnknown)]...)
}

// Pick 均匀随机选择一句话术
func (t *Table) Pick(condition types.Condition) string {
	list := t.Phrases(condition)
	if len(list) == 0 {
		return "Hello! I'll take a message for you."
	}

	t.mu.RLock()
	pick := t.pick
	t.mu.RUnlock()
	return list[pick(len(list))]
}

// Replace 整体替换话术
func (t *Table) Replace(doc Document) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc = doc
}

// LoadFile 读取话术文件，不存在时写入默认话术
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		doc := DefaultDocument()
		if err := writeFile(path, doc); err != nil {
			return doc, err
		}
		return doc, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("读取话术文件失败: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("解析话术文件失败: %w", err)
	}
	if doc.Version > CurrentVersion {
		return Document{}, fmt.Errorf("不支持的话术表版本: %d", doc.Version)
	}
	if len(doc.Conditions[string(types.ConditionUnknown)]) == 0 {
		if doc.Conditions == nil {
			doc.Conditions = map[string][]string{}
		}
		doc.Conditions[string(types.ConditionUnknown)] = DefaultDocument().Conditions[string(types.ConditionUnknown)]
	}
	return doc, nil
}

func writeFile(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化话术失败: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Watch 监听话术文件变化并热加载，直到 ctx 结束
//
// 监听所在目录而不是文件本身，编辑器的重命名式保存也能被捕获。
func (t *Table) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			doc, err := LoadFile(path)
			if err != nil {
				t.logger.Warn("话术文件重载失败，保留旧版本", "path", path, "err", err)
				continue
			}
			t.Replace(doc)
			t.logger.Info("话术文件已重载", "path", path, "version", doc.Version)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("文件监听错误", "err", err)
		}
	}
}
