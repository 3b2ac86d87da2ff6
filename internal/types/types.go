// Package types 定义基本类型
package types

import (
	"fmt"
	"strings"
	"time"
)

// Caller 来电者身份，号码作为去重与限流的主键
type Caller struct {
	Name   string `json:"name" yaml:"name"`
	Number string `json:"number" yaml:"number"`
}

// Key 返回去重键
func (c Caller) Key() string {
	return strings.TrimSpace(c.Number)
}

// DisplayName 返回可播报的名字
func (c Caller) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Number != "" {
		return c.Number
	}
	return "unknown"
}

// EventKind 通话事件类型
type EventKind int

// 定义通话事件类型常量
const (
	EventStarted EventKind = iota
	EventAnswered
	EventUnanswered
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventAnswered:
		return "answered"
	case EventUnanswered:
		return "unanswered"
	default:
		return "unknown"
	}
}

// MarshalText 以名称序列化
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 从名称反序列化
func (k *EventKind) UnmarshalText(text []byte) error {
	kind, ok := ParseEventKind(string(text))
	if !ok {
		return fmt.Errorf("未知的事件类型: %q", text)
	}
	*k = kind
	return nil
}

// ParseEventKind 解析事件类型名称
func ParseEventKind(s string) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "started", "":
		return EventStarted, true
	case "answered":
		return EventAnswered, true
	case "unanswered":
		return EventUnanswered, true
	}
	return EventStarted, false
}

// CallEvent 通话事件，由来电源产生，由编排器消费一次
type CallEvent struct {
	CallID    string    `json:"call_id"`
	Caller    Caller    `json:"caller"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Condition 主人当前状态
type Condition string

// 定义主人状态常量
const (
	ConditionSleeping Condition = "sleeping"
	ConditionAway     Condition = "away"
	ConditionBusy     Condition = "busy"
	ConditionActive   Condition = "active"
	ConditionUnknown  Condition = "unknown"
)

// ParseCondition 将任意标签归一化为已知状态，无法识别的一律视为 unknown
func ParseCondition(s string) Condition {
	switch c := Condition(strings.ToLower(strings.TrimSpace(s))); c {
	case ConditionSleeping, ConditionAway, ConditionBusy, ConditionActive:
		return c
	case "using_phone":
		return ConditionActive
	default:
		return ConditionUnknown
	}
}

// NeedsIntervention 是否需要代接
func (c Condition) NeedsIntervention() bool {
	return c != ConditionActive
}

// AlertType 告警类型
const AlertTypeRepeatedCall = "repeated_call"

// Alert 告警记录
type Alert struct {
	Caller    Caller    `json:"caller"`
	Timestamp time.Time `json:"time"`
	Type      string    `json:"type"`
	Count     int       `json:"count"`
}

// Message 留言记录
type Message struct {
	ID        string    `json:"id,omitempty"`
	Caller    Caller    `json:"caller"`
	Text      string    `json:"message"`
	Condition Condition `json:"condition,omitempty"`
	Timestamp time.Time `json:"time"`
}

// SessionState 对话会话状态
type SessionState int

// 定义对话会话状态常量
const (
	StateAnnounce SessionState = iota
	StateGreet
	StateCollect
	StatePersist
	StateFeedback
	StateLearn
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAnnounce:
		return "announce"
	case StateGreet:
		return "greet"
	case StateCollect:
		return "collect"
	case StatePersist:
		return "persist"
	case StateFeedback:
		return "feedback"
	case StateLearn:
		return "learn"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// MarshalText 以名称序列化
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
