package config

import "time"

// FreeSWITCHConfig FreeSWITCH 来电源配置
type FreeSWITCHConfig struct {
	Host        string        `yaml:"host"`         // ESL 主机
	Port        int           `yaml:"port"`         // ESL 端口
	Password    string        `yaml:"password"`     // ESL 密码，可由 RECEPTIONIST_FS_PASSWORD 覆盖
	DialTimeout time.Duration `yaml:"dial_timeout"` // 建连超时
	Reconnect   time.Duration `yaml:"reconnect"`    // 断线重连间隔
}

// NewFreeSWITCHConfig 本机 FreeSWITCH 的默认配置
func NewFreeSWITCHConfig() FreeSWITCHConfig {
	return FreeSWITCHConfig{
		Host:        "127.0.0.1",
		Port:        8021,
		Password:    "ClueCon",
		DialTimeout: 5 * time.Second,
		Reconnect:   5 * time.Second,
	}
}

// Validate 只在 source.kind=freeswitch 时调用
func (c *FreeSWITCHConfig) Validate() error {
	switch {
	case c.Host == "":
		return ErrEmptyHost
	case c.Port <= 0:
		return ErrEmptyPort
	case c.Password == "":
		return ErrEmptyPassword
	}
	return nil
}
