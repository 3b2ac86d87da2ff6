package services

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai_receptionist/internal/metrics"
	"ai_receptionist/internal/types"
)

// ActiveCallEntry 正在处理的来电
type ActiveCallEntry struct {
	Key        string       `json:"key"`
	CallID     string       `json:"call_id"`
	SessionID  string       `json:"session_id"`
	Caller     types.Caller `json:"caller"`
	AcceptedAt time.Time    `json:"accepted_at"`
	ExpiresAt  time.Time    `json:"expires_at,omitempty"` // 进入宽限期后才有值
}

// ActiveCallRegistry 按来电号码去重的活动来电表
//
// 同一号码任一时刻至多一条记录。条目只会被删除，不会被覆盖。
type ActiveCallRegistry struct {
	mu      sync.Mutex
	entries map[string]*ActiveCallEntry
	now     func() time.Time
}

// NewActiveCallRegistry 创建活动来电表
func NewActiveCallRegistry(now func() time.Time) *ActiveCallRegistry {
	if now == nil {
		now = time.Now
	}
	return &ActiveCallRegistry{
		entries: make(map[string]*ActiveCallEntry),
		now:     now,
	}
}

// TryAcquire 原子地检查并插入，号码已有记录时返回 false
func (r *ActiveCallRegistry) TryAcquire(caller types.Caller, callID string) (*ActiveCallEntry, bool) {
	key := caller.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return nil, false
	}
	entry := &ActiveCallEntry{
		Key:        key,
		CallID:     callID,
		SessionID:  uuid.NewString(),
		Caller:     caller,
		AcceptedAt: r.now(),
	}
	r.entries[key] = entry
	metrics.ActiveCalls.Set(float64(len(r.entries)))
	return entry, true
}

// Release 在 after 之后删除条目，after <= 0 时立即删除
//
// 只删除传入的这一条，号码已被新条目占用时不受影响。
func (r *ActiveCallRegistry) Release(entry *ActiveCallEntry, after time.Duration) {
	if entry == nil {
		return
	}
	if after <= 0 {
		r.remove(entry)
		return
	}

	r.mu.Lock()
	if r.entries[entry.Key] == entry {
		entry.ExpiresAt = r.now().Add(after)
	}
	r.mu.Unlock()

	time.AfterFunc(after, func() { r.remove(entry) })
}

func (r *ActiveCallRegistry) remove(entry *ActiveCallEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[entry.Key] == entry {
		delete(r.entries, entry.Key)
		metrics.ActiveCalls.Set(float64(len(r.entries)))
	}
}

// Contains 号码是否正在处理
func (r *ActiveCallRegistry) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Len 返回条目数
func (r *ActiveCallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot 返回按受理时间排序的条目副本
func (r *ActiveCallRegistry) Snapshot() []ActiveCallEntry {
	r.mu.Lock()
	out := make([]ActiveCallEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].AcceptedAt.Before(out[j].AcceptedAt)
	})
	return out
}
