package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"solbundle/config"
	"solbundle/handlers"
	"solbundle/journal"
	"solbundle/logs"
	"solbundle/middleware"
	"solbundle/pipeline"
	"solbundle/preparer"
	"solbundle/relay"
	"solbundle/stage"
	"solbundle/stats"
)

func main() {
	// 1. 解析命令行参数
	var (
		configFile = flag.String("config", "", "config file path (yaml)")
		port       = flag.Int("port", 0, "override server port")
		logLevel   = flag.Int("loglevel", logs.LevelInfo, "log level: 0=trace .. 5=error")
	)
	flag.Parse()

	logger := logs.NewStdLogger(*logLevel)
	logs.SetDefault(logger)

	// 2. 加载配置
	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		logger.Error("[Main] load config: %v", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	st := stats.NewStats()

	// 3. 打开运行日志（目录留空则关闭，运行查询接口返回 503）
	var jnl *journal.Journal
	if cfg.Journal.Dir != "" {
		jnl, err = journal.Open(cfg.Journal, logger)
		if err != nil {
			logger.Error("[Main] open journal at %s: %v", cfg.Journal.Dir, err)
			os.Exit(1)
		}
	}

	// 4. 组装流水线：preparer → 签名/分片 → relay 提交/确认 → 阶段编排
	prep := preparer.NewClient(cfg.Preparer, logger)
	relayClient := relay.NewHTTPClient(cfg.Relay, logger)
	registry := relay.NewRegistry(cfg.Relay.RecentChunkCacheSize)
	executor := relay.NewExecutor(relayClient, registry, cfg.Retry, st, logger)
	poller := relay.NewPoller(relayClient, cfg.Confirm, st, logger)
	waiter := stage.NewActivationWaiter(cfg.Stage, logger)
	orchestrator := stage.NewOrchestrator(executor, poller, waiter, cfg.Stage, cfg.Bundle, st, logger)

	var recorder pipeline.Recorder
	var runStore handlers.RunStore
	if jnl != nil {
		recorder = jnl
		runStore = jnl
	}
	pipe := pipeline.New(prep, executor, poller, orchestrator, recorder, cfg.Pipeline, cfg.Bundle, st, logger)

	// 5. 本地 HTTP 服务
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Server.LocalOnly {
		r.Use(middleware.LocalOnly())
	}
	r.Use(middleware.RateLimit(0, 0))

	mgr := handlers.NewManager(pipe, runStore, st, logger)
	mgr.RegisterRoutes(r)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if cfg.Server.LocalOnly {
		// 双保险：除中间件外监听也只绑回环
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// 不设置 WriteTimeout：一次 distribute/create 运行（含重试与确认轮询）
		// 可能远超任何合理的写超时
	}

	go func() {
		logger.Info("[Main] console listening on %s (journal: %s)", addr, journalState(jnl))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Main] server: %v", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(srv, jnl, cfg.Server.Timeout, logger)
}

func journalState(jnl *journal.Journal) string {
	if jnl == nil {
		return "disabled"
	}
	return "enabled"
}

// waitForShutdown 等待关闭信号并优雅退出
func waitForShutdown(srv *http.Server, jnl *journal.Journal, timeout time.Duration, logger logs.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("[Main] received signal: %v, shutting down...", sig)

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("[Main] server shutdown: %v", err)
	}
	if jnl != nil {
		if err := jnl.Close(); err != nil {
			logger.Warn("[Main] journal close: %v", err)
		}
	}
	logger.Info("[Main] bye")
}
