package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 180*time.Second, cfg.Alert.Window)
	assert.Equal(t, 3, cfg.Alert.Threshold)
	assert.Equal(t, 5*time.Second, cfg.Triage.Grace)
	assert.Equal(t, 10*time.Second, cfg.Triage.RingTimeout)
	assert.Equal(t, []string{"end", "finished", "complete"}, cfg.Dialogue.StopTokens)
	assert.Equal(t, 20, cfg.Monitor.BatteryThreshold)
	assert.Equal(t, SourceSimulator, cfg.Source.Kind)
	assert.Len(t, cfg.Source.Callers, 5)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.FreeSWITCH.Reconnect)
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
alert:
  window: 60s
  threshold: 0
triage:
  grace: -1s
dialogue:
  stop_tokens: []
  feedback: http
source:
  kind: manual
  replay_speed: -2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Alert.Window)
	assert.Equal(t, 3, cfg.Alert.Threshold)
	assert.Equal(t, time.Duration(0), cfg.Triage.Grace)
	assert.Equal(t, []string{"end", "finished", "complete"}, cfg.Dialogue.StopTokens)
	assert.Equal(t, FeedbackHTTP, cfg.Dialogue.Feedback)
	assert.Equal(t, float64(0), cfg.Source.ReplaySpeed)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("RECEPTIONIST_FS_PASSWORD=secret\n"), 0o644))
	t.Setenv("RECEPTIONIST_DATA_DIR", filepath.Join(dir, "data"))
	t.Cleanup(func() { os.Unsetenv("RECEPTIONIST_FS_PASSWORD") })

	path := writeConfig(t, "source:\n  kind: freeswitch\nfreeswitch:\n  dial_timeout: 0s\n")
	cfg, err := Load(path, envPath)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.FreeSWITCH.Password)
	assert.Equal(t, 5*time.Second, cfg.FreeSWITCH.DialTimeout)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.DataDir)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"), filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "alert: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"默认配置", func(c *Config) {}, nil},
		{"窗口为0", func(c *Config) { c.Alert.Window = 0 }, ErrInvalidWindow},
		{"没有模拟来电者", func(c *Config) { c.Source.Callers = nil }, ErrEmptyCallers},
		{"间隔颠倒", func(c *Config) { c.Source.MaxInterval = time.Second }, ErrInvalidInterval},
		{"PCAP缺文件", func(c *Config) { c.Source.Kind = SourcePCAP }, ErrEmptyPCAPFile},
		{"FreeSWITCH缺主机", func(c *Config) {
			c.Source.Kind = SourceFreeSWITCH
			c.FreeSWITCH.Host = ""
		}, ErrEmptyHost},
		{"未知来电源", func(c *Config) { c.Source.Kind = "carrier-pigeon" }, ErrUnknownKind},
		{"视觉服务缺地址", func(c *Config) { c.Classifier.Kind = ClassifierHTTP }, ErrEmptyVisionURL},
		{"语音桥缺地址", func(c *Config) { c.Voice.Kind = VoiceBridge }, ErrEmptyBridgeURL},
		{"未知反馈来源", func(c *Config) { c.Dialogue.Feedback = "email" }, ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
