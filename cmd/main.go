package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"ai_receptionist/internal/clients/freeswitch"
	"ai_receptionist/internal/clients/vision"
	"ai_receptionist/internal/config"
	"ai_receptionist/internal/feedback"
	"ai_receptionist/internal/handlers"
	"ai_receptionist/internal/middleware"
	"ai_receptionist/internal/models"
	"ai_receptionist/internal/phrases"
	"ai_receptionist/internal/routes"
	"ai_receptionist/internal/services"
	"ai_receptionist/internal/source"
	"ai_receptionist/internal/storage"
	"ai_receptionist/internal/types"
	"ai_receptionist/internal/voice"
)

const startupPhrase = "Neo is now active and monitoring calls silently."

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "配置文件路径")
	envFile := pflag.StringP("env", "e", ".env", "环境变量文件")
	logLevel := pflag.StringP("log", "l", "", "日志级别: debug|info|warn|error")
	pflag.Parse()

	slog.SetDefault(newLogger("info"))
	if err := run(*configPath, *envFile, *logLevel); err != nil {
		slog.Error("启动失败", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	}))
}

func run(configPath, envFile, logLevel string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.Logging.Level
	}
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("来电代接助手启动中...", "source", cfg.Source.Kind, "voice", cfg.Voice.Kind, "classifier", cfg.Classifier.Kind)

	// 语音设备
	lines := voice.NewLineReader(os.Stdin)
	gateway, closeVoice, err := newVoiceGateway(cfg.Voice, lines, logger)
	if err != nil {
		return err
	}
	defer closeVoice()
	output := voice.NewSharedOutput(gateway)

	// 持久化
	responses := storage.NewResponseStore(cfg.Storage.ResponsesFile, logger)
	messages := storage.NewMessageStore(filepath.Join(cfg.Storage.DataDir, "messages"))
	alertLog := storage.NewAlertLog(filepath.Join(cfg.Storage.DataDir, "alerts.jsonl"))
	powerLog := storage.NewPowerLog(filepath.Join(cfg.Storage.DataDir, "power_alerts.log"), nil)

	table := newPhraseTable(ctx, cfg.Storage.PhrasesFile, logger)
	hub := handlers.NewEventHub(logger.With("component", "events"))
	go hub.Run(ctx)
	output.OnSpeak(func(text string) {
		hub.Publish("speech", map[string]string{"text": text})
	})

	// 主人反馈
	var (
		inbox *feedback.Inbox
		fb    models.FeedbackSource
	)
	switch cfg.Dialogue.Feedback {
	case config.FeedbackHTTP:
		inbox = feedback.NewInbox(cfg.Dialogue.FeedbackTimeout)
		inbox.OnRequest(func(req feedback.Request) {
			logger.Info("等待主人反馈", "session", req.SessionID, "prompt", req.Prompt)
			hub.Publish("feedback", req)
		})
		fb = inbox
	default:
		fb = feedback.NewConsole(lines, os.Stdout, cfg.Dialogue.FeedbackTimeout)
	}

	// 分诊核心
	classifier := newClassifier(cfg.Classifier, logger)
	detector := services.NewAlertDetector(services.AlertConfig{
		Window:    cfg.Alert.Window,
		Threshold: cfg.Alert.Threshold,
	}, alertLog, output, nil, logger.With("component", "alert"))

	dialog := services.NewDialogService(services.DialogConfig{
		CaptureDuration:    cfg.Dialogue.CaptureDuration,
		MaxCollectDuration: cfg.Dialogue.MaxCollectDuration,
		StopTokens:         cfg.Dialogue.StopTokens,
	}, table, output, messages, responses, fb, logger.With("component", "dialog"))
	dialog.OnStateChange(func(session services.DialogSession) {
		hub.Publish(services.EventSession, session)
	})

	registry := services.NewActiveCallRegistry(nil)
	calls := services.NewCallService(cfg.Triage.Grace, registry, classifier, detector, dialog, logger.With("component", "triage"))
	calls.SetPublisher(hub)

	// 来电源，手动注入总是可用
	manual := source.NewManual(cfg.Triage.RingTimeout)
	primary, answerer := newCallSource(cfg, logger.With("component", "source"))
	sources := []models.CallSource{manual}
	answerers := source.Answerers{manual}
	if primary != nil {
		sources = append(sources, primary)
	}
	if answerer != nil {
		answerers = append(answerers, answerer)
	}
	events := make(chan types.CallEvent)
	go source.Merge(ctx, events, logger, sources...)

	// 后台监控
	reporter := services.NewReportService(messages, responses, output, fb, logger.With("component", "report"))
	commands := services.NewCommandService(services.CommandConfig{
		CaptureDuration: cfg.Monitor.CommandCapture,
	}, output, responses, reporter, logger.With("component", "command"))
	commands.SetBusy(func() bool { return registry.Len() > 0 })
	if cfg.Monitor.EnableCommands {
		go commands.Run(ctx)
	}

	power := services.NewPowerService(
		cfg.Monitor.BatterySchedule,
		cfg.Monitor.BatteryThreshold,
		services.SysfsBattery{Dir: cfg.Monitor.BatteryPath},
		powerLog,
		output,
		logger.With("component", "power"),
	)
	go func() {
		if err := power.Run(ctx); err != nil {
			logger.Error("电量监控退出", "err", err)
		}
	}()

	// HTTP 控制面
	serverErr := make(chan error, 1)
	var srv *http.Server
	if cfg.Server.Enabled {
		deps := handlers.Dependencies{
			Calls:    registry,
			Messages: messages,
			Injector: manual,
			Answerer: answerers,
			Commands: commands,
			Logger:   logger.With("component", "http"),
		}
		if inbox != nil {
			deps.Inbox = inbox
		}
		srv = newServer(cfg.Server, deps, hub, logger)
		go func() {
			logger.Info("HTTP服务已启动", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	if err := output.Speak(ctx, startupPhrase); err != nil {
		logger.Warn("启动播报失败", "err", err)
	}

	triageDone := make(chan struct{})
	go func() {
		defer close(triageDone)
		if err := calls.Run(ctx, events); err != nil {
			logger.Error("分诊循环退出", "err", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("收到退出信号，正在关闭...")
	case err := <-serverErr:
		stop()
		return fmt.Errorf("HTTP服务启动失败: %w", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP服务关闭超时", "err", err)
		}
	}
	<-triageDone
	calls.Wait()
	detector.Wait()
	logger.Info("已退出")
	return nil
}

// newVoiceGateway 创建语音网关，所需设备不可用时返回错误
func newVoiceGateway(cfg config.VoiceConfig, lines *voice.LineReader, logger *slog.Logger) (models.VoiceGateway, func(), error) {
	console := voice.NewConsoleGateway(os.Stdout, lines)
	noop := func() {}

	switch cfg.Kind {
	case config.VoiceEspeak:
		if _, err := exec.LookPath(cfg.Espeak); err != nil {
			return nil, noop, fmt.Errorf("找不到 espeak: %w", err)
		}
		return voice.NewEspeakGateway(cfg.Espeak, cfg.Voice, console), noop, nil
	case config.VoiceBridge:
		bridge, err := voice.NewBridgeGateway(cfg.BridgeURL, logger.With("component", "bridge"))
		if err != nil {
			return nil, noop, fmt.Errorf("连接语音桥失败: %w", err)
		}
		return bridge, func() { bridge.Close() }, nil
	default:
		return console, noop, nil
	}
}

// newPhraseTable 加载话术表并监听修改，文件损坏时使用默认话术
func newPhraseTable(ctx context.Context, path string, logger *slog.Logger) *phrases.Table {
	if path == "" {
		return phrases.NewTable(phrases.DefaultDocument(), logger)
	}
	doc, err := phrases.LoadFile(path)
	if err != nil {
		logger.Warn("加载话术文件失败，使用默认话术", "path", path, "err", err)
		doc = phrases.DefaultDocument()
	}
	table := phrases.NewTable(doc, logger)
	go func() {
		if err := table.Watch(ctx, path); err != nil {
			logger.Warn("话术热加载不可用", "err", err)
		}
	}()
	return table
}

func newClassifier(cfg config.ClassifierConfig, logger *slog.Logger) models.Classifier {
	if cfg.Kind == config.ClassifierHTTP {
		return vision.NewClient(vision.Config{Host: cfg.URL, Timeout: cfg.Timeout}, logger.With("component", "vision"))
	}
	return vision.Static{Label: types.ParseCondition(cfg.Label)}
}

// newCallSource 按配置创建来电源，manual 模式下只有手动注入
func newCallSource(cfg *config.Config, logger *slog.Logger) (models.CallSource, source.Answerer) {
	ring := cfg.Triage.RingTimeout
	switch cfg.Source.Kind {
	case config.SourceSimulator:
		sim := source.NewSimulator(source.SimulatorConfig{
			Callers:     cfg.Source.Callers,
			MinInterval: cfg.Source.MinInterval,
			MaxInterval: cfg.Source.MaxInterval,
			RingTimeout: ring,
		}, logger)
		return sim, sim
	case config.SourceFreeSWITCH:
		client := freeswitch.NewESLClient(freeswitch.ESLConfig{
			Host:        cfg.FreeSWITCH.Host,
			Port:        cfg.FreeSWITCH.Port,
			Password:    cfg.FreeSWITCH.Password,
			DialTimeout: cfg.FreeSWITCH.DialTimeout,
		}, logger)
		return source.NewFreeSWITCH(client, ring, logger).WithReconnect(cfg.FreeSWITCH.Reconnect), nil
	case config.SourcePCAP:
		return source.NewPCAP(cfg.Source.PCAPFile, ring, cfg.Source.ReplaySpeed, logger), nil
	default:
		return nil, nil
	}
}

func newServer(cfg config.ServerConfig, deps handlers.Dependencies, hub *handlers.EventHub, logger *slog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	middleware.Setup(r, logger.With("component", "http"))
	routes.RegisterRoutes(r, handlers.NewAPIHandler(deps), hub)

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
