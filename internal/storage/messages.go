package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai_receptionist/internal/types"
)

const messageTimeLayout = "20060102_150405"

// MessageStore 每条留言一个 JSON 文件
type MessageStore struct {
	dir string
	mu  sync.Mutex
}

// NewMessageStore 创建留言存储
func NewMessageStore(dir string) *MessageStore {
	return &MessageStore{dir: dir}
}

// AppendMessage 保存一条留言
func (s *MessageStore) AppendMessage(_ context.Context, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("创建留言目录失败: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	// 文件名按时间排序，同一秒内用 id 前缀区分
	name := fmt.Sprintf("%s_%s_%s.json",
		msg.Timestamp.Format(messageTimeLayout), safeName(msg.Caller.DisplayName()), shortID(msg.ID))
	data, err := json.MarshalIndent(msg, "", "    ")
	if err != nil {
		return fmt.Errorf("序列化留言失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("写入留言失败: %w", err)
	}
	return nil
}

// ListMessages 按时间顺序返回全部留言，损坏的文件被跳过
func (s *MessageStore) ListMessages(_ context.Context) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取留言目录失败: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]types.Message, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		return "unknown"
	}
	return name
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return safeName(id)
}
