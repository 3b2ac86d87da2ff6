// Package config 提供配置加载和管理功能
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ai_receptionist/internal/types"
)

// Config 应用程序配置结构
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Triage     TriageConfig     `yaml:"triage"`
	Alert      AlertConfig      `yaml:"alert"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Source     SourceConfig     `yaml:"source"`
	FreeSWITCH FreeSWITCHConfig `yaml:"freeswitch"`
	Voice      VoiceConfig      `yaml:"voice"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig HTTP控制面配置
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"` // 是否启动HTTP服务
	Host    string `yaml:"host"`    // 监听地址
	Port    int    `yaml:"port"`    // 监听端口
}

// Addr 返回监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TriageConfig 来电分诊配置
type TriageConfig struct {
	Grace       time.Duration `yaml:"grace"`        // 会话结束后保留去重记录的时长
	RingTimeout time.Duration `yaml:"ring_timeout"` // 振铃超时
}

// AlertConfig 重复来电告警配置
type AlertConfig struct {
	Window    time.Duration `yaml:"window"`    // 滑动窗口
	Threshold int           `yaml:"threshold"` // 触发阈值
}

// DialogueConfig 对话会话配置
type DialogueConfig struct {
	CaptureDuration    time.Duration `yaml:"capture_duration"`     // 单次录音时长
	MaxCollectDuration time.Duration `yaml:"max_collect_duration"` // 留言收集最长时间，0 表示不限
	FeedbackTimeout    time.Duration `yaml:"feedback_timeout"`     // 等待主人反馈的时间
	StopTokens         []string      `yaml:"stop_tokens"`          // 结束词
	Feedback           string        `yaml:"feedback"`             // 反馈来源：console | http
}

// 反馈来源类型
const (
	FeedbackConsole = "console"
	FeedbackHTTP    = "http"
)

// 来电源类型
const (
	SourceSimulator  = "simulator"
	SourceFreeSWITCH = "freeswitch"
	SourcePCAP       = "pcap"
	SourceManual     = "manual"
)

// SourceConfig 来电源配置
type SourceConfig struct {
	Kind        string         `yaml:"kind"`         // 来电源类型
	Callers     []types.Caller `yaml:"callers"`      // 模拟来电者
	MinInterval time.Duration  `yaml:"min_interval"` // 模拟来电最短间隔
	MaxInterval time.Duration  `yaml:"max_interval"` // 模拟来电最长间隔
	PCAPFile    string         `yaml:"pcap_file"`    // PCAP回放文件
	ReplaySpeed float64        `yaml:"replay_speed"` // 回放倍速，0 表示不等待
}

// 状态识别器类型
const (
	ClassifierStatic = "static"
	ClassifierHTTP   = "http"
)

// ClassifierConfig 主人状态识别配置
type ClassifierConfig struct {
	Kind    string        `yaml:"kind"`    // 识别器类型
	Label   string        `yaml:"label"`   // static 模式下的固定标签
	URL     string        `yaml:"url"`     // 视觉服务地址
	Timeout time.Duration `yaml:"timeout"` // 请求超时
}

// StorageConfig 持久化配置
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`       // 数据目录
	ResponsesFile string `yaml:"responses_file"` // 学习到的话术文件
	PhrasesFile   string `yaml:"phrases_file"`   // 播报话术表
}

// MonitorConfig 后台监控配置
type MonitorConfig struct {
	BatterySchedule  string        `yaml:"battery_schedule"`  // 电量检查的 cron 表达式
	BatteryThreshold int           `yaml:"battery_threshold"` // 低电量阈值（百分比）
	BatteryPath      string        `yaml:"battery_path"`      // 电池信息目录
	CommandCapture   time.Duration `yaml:"command_capture"`   // 主人指令录音时长
	EnableCommands   bool          `yaml:"enable_commands"`   // 是否监听主人语音指令
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Enabled: true, Host: "127.0.0.1", Port: 8090},
		Triage: TriageConfig{Grace: 5 * time.Second, RingTimeout: 10 * time.Second},
		Alert:  AlertConfig{Window: 180 * time.Second, Threshold: 3},
		Dialogue: DialogueConfig{
			CaptureDuration:    5 * time.Second,
			MaxCollectDuration: 2 * time.Minute,
			FeedbackTimeout:    30 * time.Second,
			StopTokens:         []string{"end", "finished", "complete"},
			Feedback:           FeedbackConsole,
		},
		Source: SourceConfig{
			Kind: SourceSimulator,
			Callers: []types.Caller{
				{Name: "Mom", Number: "+1111111111"},
				{Name: "Dad", Number: "+2222222222"},
				{Name: "Best Friend", Number: "+3333333333"},
				{Name: "Boss", Number: "+4444444444"},
				{Name: "Unknown", Number: "+5555555555"},
			},
			MinInterval: 15 * time.Second,
			MaxInterval: 60 * time.Second,
			ReplaySpeed: 1,
		},
		FreeSWITCH: NewFreeSWITCHConfig(),
		Voice:      VoiceConfig{Kind: VoiceConsole, Espeak: "espeak"},
		Classifier: ClassifierConfig{Kind: ClassifierStatic, Label: string(types.ConditionUnknown), Timeout: 5 * time.Second},
		Storage: StorageConfig{
			DataDir:       "data",
			ResponsesFile: "data/user_profile.json",
			PhrasesFile:   "resources/responses.yaml",
		},
		Monitor: MonitorConfig{
			BatterySchedule:  "@every 60s",
			BatteryThreshold: 20,
			BatteryPath:      "/sys/class/power_supply/BAT0",
			CommandCapture:   5 * time.Second,
			EnableCommands:   true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load 从文件加载配置，文件不存在时使用默认值
func Load(filename string, envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		// .env 不存在不算错误
		if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("加载环境变量文件失败: %w", err)
		}
	}

	cfg := Default()
	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息
func (c *Config) applyEnv() {
	if v := os.Getenv("RECEPTIONIST_FS_PASSWORD"); v != "" {
		c.FreeSWITCH.Password = v
	}
	if v := os.Getenv("RECEPTIONIST_BRIDGE_URL"); v != "" {
		c.Voice.BridgeURL = v
	}
	if v := os.Getenv("RECEPTIONIST_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
}

// applyDefaults 补齐零值
func (c *Config) applyDefaults() {
	d := Default()
	if c.Triage.Grace < 0 {
		c.Triage.Grace = 0
	}
	if c.Source.ReplaySpeed < 0 {
		c.Source.ReplaySpeed = 0
	}
	if c.Triage.RingTimeout <= 0 {
		c.Triage.RingTimeout = d.Triage.RingTimeout
	}
	if c.Alert.Threshold <= 0 {
		c.Alert.Threshold = d.Alert.Threshold
	}
	if c.Dialogue.CaptureDuration <= 0 {
		c.Dialogue.CaptureDuration = d.Dialogue.CaptureDuration
	}
	if c.Dialogue.FeedbackTimeout <= 0 {
		c.Dialogue.FeedbackTimeout = d.Dialogue.FeedbackTimeout
	}
	if c.Dialogue.Feedback == "" {
		c.Dialogue.Feedback = d.Dialogue.Feedback
	}
	if len(c.Dialogue.StopTokens) == 0 {
		c.Dialogue.StopTokens = d.Dialogue.StopTokens
	}
	if c.FreeSWITCH.DialTimeout <= 0 {
		c.FreeSWITCH.DialTimeout = d.FreeSWITCH.DialTimeout
	}
	if c.FreeSWITCH.Reconnect <= 0 {
		c.FreeSWITCH.Reconnect = d.FreeSWITCH.Reconnect
	}
	if c.Classifier.Timeout <= 0 {
		c.Classifier.Timeout = d.Classifier.Timeout
	}
	if c.Monitor.CommandCapture <= 0 {
		c.Monitor.CommandCapture = d.Monitor.CommandCapture
	}
	if c.Monitor.BatterySchedule == "" {
		c.Monitor.BatterySchedule = d.Monitor.BatterySchedule
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
	if c.Storage.ResponsesFile == "" {
		c.Storage.ResponsesFile = d.Storage.ResponsesFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// Validate 验证配置是否有效
func (c *Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("服务器端口必须大于0")
	}
	if c.Alert.Window <= 0 {
		return ErrInvalidWindow
	}

	switch c.Source.Kind {
	case SourceSimulator:
		if len(c.Source.Callers) == 0 {
			return ErrEmptyCallers
		}
		if c.Source.MinInterval <= 0 || c.Source.MaxInterval < c.Source.MinInterval {
			return ErrInvalidInterval
		}
	case SourceFreeSWITCH:
		if err := c.FreeSWITCH.Validate(); err != nil {
			return err
		}
	case SourcePCAP:
		if c.Source.PCAPFile == "" {
			return ErrEmptyPCAPFile
		}
	case SourceManual:
	default:
		return fmt.Errorf("%w: source.kind=%q", ErrUnknownKind, c.Source.Kind)
	}

	switch c.Classifier.Kind {
	case ClassifierStatic:
	case ClassifierHTTP:
		if c.Classifier.URL == "" {
			return ErrEmptyVisionURL
		}
	default:
		return fmt.Errorf("%w: classifier.kind=%q", ErrUnknownKind, c.Classifier.Kind)
	}

	switch c.Dialogue.Feedback {
	case FeedbackConsole, FeedbackHTTP:
	default:
		return fmt.Errorf("%w: dialogue.feedback=%q", ErrUnknownKind, c.Dialogue.Feedback)
	}

	return c.Voice.Validate()
}
