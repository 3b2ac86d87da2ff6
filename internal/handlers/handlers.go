// Package handlers 提供HTTP控制面的请求处理器
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ai_receptionist/internal/feedback"
	"ai_receptionist/internal/models"
	"ai_receptionist/internal/services"
	"ai_receptionist/internal/source"
	"ai_receptionist/internal/types"
)

// ActiveCalls 活动来电快照
type ActiveCalls interface {
	Snapshot() []services.ActiveCallEntry
}

// CallInjector 手动注入来电
type CallInjector interface {
	Inject(ctx context.Context, callID string, caller types.Caller, kind types.EventKind) (string, error)
}

// FeedbackInbox 反馈收件箱
type FeedbackInbox interface {
	Deliver(sessionID, text string) error
	Pending() []feedback.Request
}

// CommandRunner 执行主人指令
type CommandRunner interface {
	HandleCommand(ctx context.Context, command string) error
}

// Dependencies 处理器依赖，未配置的组件对应接口返回 503
type Dependencies struct {
	Calls    ActiveCalls
	Messages models.MessageStore
	Injector CallInjector
	Answerer source.Answerer
	Inbox    FeedbackInbox
	Commands CommandRunner
	Logger   *slog.Logger
}

// APIHandler 控制面接口
type APIHandler struct {
	deps    Dependencies
	logger  *slog.Logger
	started time.Time
}

// NewAPIHandler 创建控制面接口
func NewAPIHandler(deps Dependencies) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{deps: deps, logger: logger, started: time.Now()}
}

// InjectRequest 注入来电请求
type InjectRequest struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Number string `json:"number" binding:"required"`
	Kind   string `json:"kind"`
}

// FeedbackRequest 反馈请求
type FeedbackRequest struct {
	Text string `json:"text"`
}

// CommandRequest 主人指令请求
type CommandRequest struct {
	Text string `json:"text" binding:"required"`
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " 未启用"})
}

// Health 健康检查
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ai_receptionist",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"time":    time.Now().Format(time.RFC3339),
	})
}

// ListActiveCalls 返回正在处理的来电
func (h *APIHandler) ListActiveCalls(c *gin.Context) {
	if h.deps.Calls == nil {
		unavailable(c, "活动来电表")
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": h.deps.Calls.Snapshot()})
}

// ListMessages 返回全部留言，按时间排序
func (h *APIHandler) ListMessages(c *gin.Context) {
	if h.deps.Messages == nil {
		unavailable(c, "留言存储")
		return
	}
	messages, err := h.deps.Messages.ListMessages(c.Request.Context())
	if err != nil {
		h.logger.Error("读取留言失败", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// InjectCall 手动注入一个来电事件
func (h *APIHandler) InjectCall(c *gin.Context) {
	if h.deps.Injector == nil {
		unavailable(c, "手动来电源")
		return
	}
	var req InjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, ok := types.ParseEventKind(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知的事件类型: " + req.Kind})
		return
	}

	caller := types.Caller{Name: strings.TrimSpace(req.Name), Number: strings.TrimSpace(req.Number)}
	callID, err := h.deps.Injector.Inject(c.Request.Context(), req.CallID, caller, kind)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, source.ErrSourceClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"call_id": callID, "kind": kind.String()})
}

// AnswerCall 主人接听正在振铃的来电
func (h *APIHandler) AnswerCall(c *gin.Context) {
	if h.deps.Answerer == nil {
		unavailable(c, "来电接听")
		return
	}
	callID := c.Param("id")
	if err := h.deps.Answerer.Answer(callID); err != nil {
		if errors.Is(err, source.ErrUnknownCall) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "answered": true})
}

// PendingFeedback 返回等待主人反馈的会话
func (h *APIHandler) PendingFeedback(c *gin.Context) {
	if h.deps.Inbox == nil {
		unavailable(c, "反馈收件箱")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": h.deps.Inbox.Pending()})
}

// DeliverFeedback 投递反馈，路径参数为 "-" 时投递给最早的请求
func (h *APIHandler) DeliverFeedback(c *gin.Context) {
	if h.deps.Inbox == nil {
		unavailable(c, "反馈收件箱")
		return
	}
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID := c.Param("id")
	if sessionID == "-" {
		sessionID = ""
	}
	if err := h.deps.Inbox.Deliver(sessionID, req.Text); err != nil {
		if errors.Is(err, feedback.ErrNoPending) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}

// Command 异步执行一条主人指令
func (h *APIHandler) Command(c *gin.Context) {
	if h.deps.Commands == nil {
		unavailable(c, "主人指令")
		return
	}
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 汇报会等待反馈，不能绑定在请求上
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("执行主人指令发生panic", "command", req.Text, "panic", fmt.Sprint(r))
			}
		}()
		if err := h.deps.Commands.HandleCommand(ctx, req.Text); err != nil {
			h.logger.Error("执行主人指令失败", "command", req.Text, "err", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
