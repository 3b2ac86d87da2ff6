package voice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// LineReader 后台读取输入流的行，供录音与反馈共享
type LineReader struct {
	lines chan string
	once  sync.Once
	r     io.Reader
}

// NewLineReader 创建行读取器
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{lines: make(chan string, 16), r: r}
}

// start 启动读取协程，仅一次
func (l *LineReader) start() {
	l.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(l.r)
			for scanner.Scan() {
				l.lines <- strings.TrimSpace(scanner.Text())
			}
			close(l.lines)
		}()
	})
}

// ReadLine 等待一行输入，超时或输入结束返回空字符串
func (l *LineReader) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	l.start()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-l.lines:
		if !ok {
			// 输入已结束，等同于静音
			select {
			case <-timer.C:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return "", nil
		}
		return line, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ConsoleGateway 终端语音网关：播报打印到输出，录音读取一行输入
type ConsoleGateway struct {
	out   io.Writer
	lines *LineReader
	mu    sync.Mutex
}

// NewConsoleGateway 创建终端网关
func NewConsoleGateway(out io.Writer, lines *LineReader) *ConsoleGateway {
	return &ConsoleGateway{out: out, lines: lines}
}

// Speak 打印一句话
func (g *ConsoleGateway) Speak(_ context.Context, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := fmt.Fprintf(g.out, "🔊 %s\n", text)
	return err
}

// Capture 在 duration 内读取一行
func (g *ConsoleGateway) Capture(ctx context.Context, duration time.Duration) (string, error) {
	return g.lines.ReadLine(ctx, duration)
}

// EspeakGateway 通过 espeak 命令播报，录音沿用终端输入
type EspeakGateway struct {
	*ConsoleGateway
	binary string
	voice  string
}

// NewEspeakGateway 创建 espeak 网关
func NewEspeakGateway(binary, voice string, console *ConsoleGateway) *EspeakGateway {
	if binary == "" {
		binary = "espeak"
	}
	return &EspeakGateway{ConsoleGateway: console, binary: binary, voice: voice}
}

// Speak 打印并同步播放
func (g *EspeakGateway) Speak(ctx context.Context, text string) error {
	if err := g.ConsoleGateway.Speak(ctx, text); err != nil {
		return err
	}

	args := []string{}
	if g.voice != "" {
		args = append(args, "-v", g.voice)
	}
	args = append(args, text)
	if out, err := exec.CommandContext(ctx, g.binary, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("espeak 播报失败: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
