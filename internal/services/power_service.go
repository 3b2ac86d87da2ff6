package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"ai_receptionist/internal/metrics"
	"ai_receptionist/internal/models"
)

const (
	lowBatteryMessage = "Device battery low. Please check on the owner."
	powerAlertPhrase  = "Power alert recorded."
)

// BatteryStatus 电池状态
type BatteryStatus struct {
	Percent int
	Plugged bool
}

// BatteryReader 读取电池状态，没有电池时 ok 为 false
type BatteryReader interface {
	Read() (status BatteryStatus, ok bool, err error)
}

// PowerLog 电量告警记录
type PowerLog interface {
	Append(ctx context.Context, msg string) error
}

// SysfsBattery 从 /sys/class/power_supply 读取电池状态
type SysfsBattery struct {
	Dir string
}

// Read 读取 capacity 与 status
func (b SysfsBattery) Read() (BatteryStatus, bool, error) {
	raw, err := os.ReadFile(filepath.Join(b.Dir, "capacity"))
	if errors.Is(err, os.ErrNotExist) {
		return BatteryStatus{}, false, nil
	}
	if err != nil {
		return BatteryStatus{}, false, fmt.Errorf("读取电量失败: %w", err)
	}
	percent, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return BatteryStatus{}, false, fmt.Errorf("解析电量失败: %w", err)
	}

	status := BatteryStatus{Percent: percent}
	if raw, err := os.ReadFile(filepath.Join(b.Dir, "status")); err == nil {
		switch strings.TrimSpace(string(raw)) {
		case "Charging", "Full", "Not charging":
			status.Plugged = true
		}
	}
	return status, true, nil
}

// PowerService 定时检查电量
type PowerService struct {
	reader    BatteryReader
	threshold int
	log       PowerLog
	voice     models.Speaker
	schedule  string
	logger    *slog.Logger
}

// NewPowerService 创建电量监控
func NewPowerService(schedule string, threshold int, reader BatteryReader, log PowerLog, voice models.Speaker, logger *slog.Logger) *PowerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PowerService{
		reader:    reader,
		threshold: threshold,
		log:       log,
		voice:     voice,
		schedule:  schedule,
		logger:    logger,
	}
}

// Check 检查一次电量，返回是否记录了告警
func (s *PowerService) Check(ctx context.Context) (bool, error) {
	status, ok, err := s.reader.Read()
	if err != nil {
		return false, err
	}
	if !ok || status.Plugged || status.Percent > s.threshold {
		return false, nil
	}

	if err := s.log.Append(ctx, lowBatteryMessage); err != nil {
		return false, fmt.Errorf("记录电量告警失败: %w", err)
	}
	s.logger.Warn("电量过低", "percent", status.Percent)
	if err := s.voice.Speak(ctx, powerAlertPhrase); err != nil {
		s.logger.Warn("播报电量告警失败", "err", err)
	}
	return true, nil
}

// cronLogger 把 cron 的日志转到 slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	metrics.MonitorErrors.WithLabelValues("power").Inc()
	l.logger.Error(msg, append([]any{"err", err}, keysAndValues...)...)
}

// Run 按 cron 表达式定时检查，直到 ctx 结束
func (s *PowerService) Run(ctx context.Context) error {
	// 单次检查 panic 只记录日志，不影响后续调度
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})))
	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Check(ctx); err != nil {
			metrics.MonitorErrors.WithLabelValues("power").Inc()
			s.logger.Error("电量检查失败", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("无效的电量检查计划 %q: %w", s.schedule, err)
	}

	s.logger.Info("电量监控已启动", "schedule", s.schedule, "threshold", s.threshold)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
