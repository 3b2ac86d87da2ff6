package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ai_receptionist/internal/metrics"
	"ai_receptionist/internal/models"
	"ai_receptionist/internal/types"
)

// AlertConfig 重复来电检测配置
type AlertConfig struct {
	Window    time.Duration // 滑动窗口
	Threshold int           // 窗口内达到该次数即告警
}

// callRecord 一次来电
type callRecord struct {
	at     time.Time
	callID string
}

// callHistory 单个号码的近期来电
type callHistory struct {
	calls   []callRecord
	latched bool // 已对本轮越过阈值告警过
}

// AlertDetector 按号码统计滑动窗口内的来电次数
//
// 不同号码的历史相互独立，跟踪的号码数量不设上限。
type AlertDetector struct {
	config  AlertConfig
	now     func() time.Time
	logger  *slog.Logger
	log     models.AlertLog
	speaker models.Speaker

	mu        sync.Mutex
	histories map[string]*callHistory

	// 播报在独立协程中进行，测试可等待其结束
	speaking sync.WaitGroup
}

// NewAlertDetector 创建重复来电检测器，alertLog 与 speaker 可为 nil
func NewAlertDetector(config AlertConfig, alertLog models.AlertLog, speaker models.Speaker, now func() time.Time, logger *slog.Logger) *AlertDetector {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertDetector{
		config:    config,
		now:       now,
		logger:    logger,
		log:       alertLog,
		speaker:   speaker,
		histories: make(map[string]*callHistory),
	}
}

// RecordCall 记录一次来电，返回告警记录以及本次是否越过阈值
//
// 先追加再剪枝：恰好 Window 之前的记录被剔除。同一 callID 只计一次。
// 计数达到阈值且本轮尚未告警时触发；窗口内次数回落到阈值以下后重新布防。
func (d *AlertDetector) RecordCall(ctx context.Context, caller types.Caller, callID string) (types.Alert, bool) {
	alert, triggered := d.record(caller, callID)
	if !triggered {
		return alert, false
	}

	metrics.Alerts.Inc()
	d.logger.Warn("重复来电告警", "caller", caller.DisplayName(), "number", caller.Number, "count", alert.Count)
	if d.log != nil {
		if err := d.log.AppendAlert(ctx, alert); err != nil {
			d.logger.Error("保存告警失败", "err", err)
		}
	}
	if d.speaker != nil {
		// 播报不能阻塞计数
		d.speaking.Add(1)
		go func() {
			defer d.speaking.Done()
			text := fmt.Sprintf("Alert. %s has been calling repeatedly.", caller.DisplayName())
			if err := d.speaker.Speak(context.WithoutCancel(ctx), text); err != nil {
				d.logger.Warn("播报告警失败", "err", err)
			}
		}()
	}
	return alert, true
}

func (d *AlertDetector) record(caller types.Caller, callID string) (types.Alert, bool) {
	key := caller.Key()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.histories[key]
	if !ok {
		h = &callHistory{}
		d.histories[key] = h
	}

	if callID != "" {
		for _, rec := range h.calls {
			if rec.callID == callID {
				return types.Alert{}, false
			}
		}
	}

	h.calls = append(h.calls, callRecord{at: now, callID: callID})
	h.calls = prune(h.calls, now, d.config.Window)

	count := len(h.calls)
	if count < d.config.Threshold {
		h.latched = false
		return types.Alert{}, false
	}
	if h.latched {
		return types.Alert{}, false
	}
	h.latched = true

	return types.Alert{
		Caller:    caller,
		Timestamp: now,
		Type:      types.AlertTypeRepeatedCall,
		Count:     count,
	}, true
}

// Count 返回号码当前窗口内的来电次数，号码按去重键归一化
func (d *AlertDetector) Count(number string) int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.histories[types.Caller{Number: number}.Key()]
	if !ok {
		return 0
	}
	h.calls = prune(h.calls, now, d.config.Window)
	return len(h.calls)
}

// Wait 等待进行中的告警播报结束
func (d *AlertDetector) Wait() {
	d.speaking.Wait()
}

// prune 保留 now - at < window 的记录，顺序不变
func prune(calls []callRecord, now time.Time, window time.Duration) []callRecord {
	kept := calls[:0]
	for _, rec := range calls {
		if now.Sub(rec.at) < window {
			kept = append(kept, rec)
		}
	}
	return kept
}
