package config

import "fmt"

// 语音网关类型
const (
	VoiceConsole = "console" // 终端打印 + 标准输入
	VoiceEspeak  = "espeak"  // espeak 播报 + 标准输入
	VoiceBridge  = "bridge"  // WebSocket 语音桥
)

// VoiceConfig 语音输入输出配置
type VoiceConfig struct {
	Kind      string `yaml:"kind"`       // 网关类型
	BridgeURL string `yaml:"bridge_url"` // 语音桥地址
	Espeak    string `yaml:"espeak"`     // espeak 可执行文件
	Voice     string `yaml:"voice"`      // espeak 音色
}

// Validate 验证语音配置
func (c *VoiceConfig) Validate() error {
	switch c.Kind {
	case VoiceConsole, VoiceEspeak:
		return nil
	case VoiceBridge:
		if c.BridgeURL == "" {
			return ErrEmptyBridgeURL
		}
		return nil
	default:
		return fmt.Errorf("%w: voice.kind=%q", ErrUnknownKind, c.Kind)
	}
}
