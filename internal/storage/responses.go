// Package storage 提供基于文件的持久化实现
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// profileDocument 持久化文档格式
type profileDocument struct {
	Habits        map[string]any               `json:"habits"`
	Responses     map[string]map[string]string `json:"responses"`
	ReportPhrases map[string]string            `json:"report_phrases"`
}

func emptyDocument() *profileDocument {
	return &profileDocument{
		Habits:        map[string]any{},
		Responses:     map[string]map[string]string{},
		ReportPhrases: map[string]string{},
	}
}

// ResponseStore 学习到的话术存储
//
// 整个文件是唯一的数据源，每次写入都是完整的读-改-写，
// 所有写入者共享同一把锁。
type ResponseStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewResponseStore 创建话术存储
func NewResponseStore(path string, logger *slog.Logger) *ResponseStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseStore{path: path, logger: logger}
}

// Get 查询某来电者在某情境下的话术
func (s *ResponseStore) Get(callerID, situation string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	phrase, ok := doc.Responses[callerID][situation]
	return phrase, ok && phrase != ""
}

// Put 写入话术
func (s *ResponseStore) Put(callerID, situation, phrase string) error {
	return s.update(func(doc *profileDocument) {
		if doc.Responses[callerID] == nil {
			doc.Responses[callerID] = map[string]string{}
		}
		doc.Responses[callerID][situation] = phrase
	})
}

// GetReportPhrase 查询留言的汇报话术
func (s *ResponseStore) GetReportPhrase(message string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	phrase, ok := doc.ReportPhrases[NormalizeMessage(message)]
	return phrase, ok && phrase != ""
}

// LearnReportPhrase 学习留言的汇报话术
func (s *ResponseStore) LearnReportPhrase(message, phrase string) error {
	return s.update(func(doc *profileDocument) {
		doc.ReportPhrases[NormalizeMessage(message)] = phrase
	})
}

// update 在锁内完成一次完整的读-改-写
func (s *ResponseStore) update(mutate func(doc *profileDocument)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	mutate(doc)
	return s.save(doc)
}

// load 读取文档，文件缺失或损坏时返回空文档
func (s *ResponseStore) load() *profileDocument {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("读取话术文件失败，使用空记忆", "path", s.path, "err", err)
		}
		return emptyDocument()
	}

	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Warn("话术文件已损坏，使用空记忆", "path", s.path, "err", err)
		return emptyDocument()
	}
	if doc.Habits == nil {
		doc.Habits = map[string]any{}
	}
	if doc.Responses == nil {
		doc.Responses = map[string]map[string]string{}
	}
	if doc.ReportPhrases == nil {
		doc.ReportPhrases = map[string]string{}
	}
	return doc
}

// save 先写临时文件再重命名，整体替换文档
func (s *ResponseStore) save(doc *profileDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("序列化话术失败: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入话术文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换话术文件失败: %w", err)
	}
	return nil
}

// NormalizeMessage 归一化留言文本，作为汇报话术的键
func NormalizeMessage(message string) string {
	return strings.Join(strings.Fields(strings.ToLower(message)), " ")
}
