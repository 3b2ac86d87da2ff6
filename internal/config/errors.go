package config

import "errors"

// 配置相关错误
var (
	ErrEmptyHost       = errors.New("FreeSWITCH主机地址不能为空")
	ErrEmptyPort       = errors.New("FreeSWITCH端口不能为空")
	ErrEmptyPassword   = errors.New("FreeSWITCH密码不能为空")
	ErrEmptyBridgeURL  = errors.New("语音桥接地址不能为空")
	ErrEmptyCallers    = errors.New("模拟来电者列表不能为空")
	ErrEmptyPCAPFile   = errors.New("PCAP文件路径不能为空")
	ErrEmptyVisionURL  = errors.New("状态识别服务地址不能为空")
	ErrUnknownKind     = errors.New("未知的组件类型")
	ErrInvalidWindow   = errors.New("告警时间窗口必须大于0")
	ErrInvalidInterval = errors.New("模拟来电间隔无效")
)
