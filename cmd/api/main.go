package main

import (
	"context"
	"flag"
	"net/http"
	"syscall"
	"time"

	"sentinel/internal/api"
	"sentinel/internal/config"
	"sentinel/internal/history"
	"sentinel/internal/logging"
	"sentinel/internal/oracle"
	"sentinel/internal/output"
	"sentinel/internal/scan"
	"sentinel/internal/shutdown"

	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 8080, "API 服务端口")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// 自动检测并加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Warnf("加载配置失败，使用内置默认配置: %v", err)
		cfg = config.GetDefaultConfig()
	}

	// 结构化审计日志（JSON，可落文件）
	auditLogger, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		logger.Fatalf("创建结构化日志失败: %v", err)
	}
	auditLogger.Info("sentinel API 服务启动", "port", *port)

	// 链预言机
	oracleClient, err := oracle.NewClient(cfg.Chains, cfg.Oracle, logger)
	if err != nil {
		logger.Fatalf("创建链预言机失败: %v", err)
	}

	// 历史存储（失败不致命，漂移检测退化）
	var repo *history.Repository
	store, err := history.NewBoltStore(cfg.History.Path, logger)
	if err != nil {
		logger.Warnf("历史存储打开失败，漂移检测不可用: %v", err)
	} else {
		repo = history.NewRepository(store, logger, cfg.History.ListCap, cfg.History.TTLDays)
	}

	// 结果发布器
	var out output.Output = &output.NoopOutput{}
	if cfg.Output != nil && cfg.Output.Enable {
		out, err = output.NewOutput(cfg.Output.Format, cfg.Output.Path, cfg.Output.Kafka, logger)
		if err != nil {
			logger.Fatalf("创建输出器失败: %v", err)
		}
	}

	scanner := scan.NewScanner(cfg, oracleClient, repo, out, logger)
	server := api.NewServer(cfg, scanner, repo, logger, auditLogger, *port)

	// 优雅停机：先停入口，再刷输出，最后关存储与连接
	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.RegisterShutdownFunc("http服务器", func(ctx context.Context) error {
		return server.Stop()
	}, shutdown.OrderStopAcceptingRequests)
	gs.RegisterShutdownFunc("结果发布器", func(ctx context.Context) error {
		return out.Close()
	}, shutdown.OrderFlushProducers)
	gs.RegisterShutdownFunc("历史存储", func(ctx context.Context) error {
		if store != nil {
			return store.Close()
		}
		return nil
	}, shutdown.OrderCloseConnections)
	gs.RegisterShutdownFunc("链预言机", func(ctx context.Context) error {
		oracleClient.Close()
		return nil
	}, shutdown.OrderCloseConnections)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("服务器退出: %v", err)
			// 走统一的信号停机路径
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", *port)

	// 等待停机信号并按序清理
	gs.WaitForShutdown()
	auditLogger.Info("sentinel API 服务已关闭")
}
