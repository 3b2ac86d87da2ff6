package feedback

import (
	"context"
	"fmt"
	"io"
	"time"
)

// LineSource 行输入
type LineSource interface {
	ReadLine(ctx context.Context, timeout time.Duration) (string, error)
}

// Console 在终端提示并读取一行反馈
type Console struct {
	lines   LineSource
	out     io.Writer
	timeout time.Duration
}

// NewConsole 创建终端反馈来源
func NewConsole(lines LineSource, out io.Writer, timeout time.Duration) *Console {
	return &Console{lines: lines, out: out, timeout: timeout}
}

// AskFeedback 打印提示并等待一行输入
func (c *Console) AskFeedback(ctx context.Context, _ string, prompt string) (string, error) {
	fmt.Fprintf(c.out, "🧠 %s\nFeedback: ", prompt)
	return c.lines.ReadLine(ctx, c.timeout)
}
