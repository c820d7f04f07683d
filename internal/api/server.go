package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"sentinel/internal/config"
	sentinelerrors "sentinel/internal/errors"
	"sentinel/internal/history"
	"sentinel/internal/logging"
	"sentinel/internal/scan"
	"sentinel/pkg/models"
)

// Server API服务器。对外暴露分析、历史查询与运维端点。
type Server struct {
	scanner      *scan.Scanner
	repo         *history.Repository
	config       *config.Config
	logger       *logrus.Logger
	logManager   *LogManager
	errorHandler *sentinelerrors.ErrorHandler
	audit        *logging.StructuredLogger
	server       *http.Server
	port         int

	mu        sync.RWMutex
	startTime time.Time
	scanCount int64
	byVerdict map[models.VerdictKind]int64
}

// analyzeRequest 分析端点的请求体。地址、金额与calldata都是
// hex字符串，链标识接受整数或 eip155:<n> 形式。
type analyzeRequest struct {
	ChainID string `json:"chain_id" binding:"required"`
	From    string `json:"from" binding:"required"`
	To      string `json:"to" binding:"required"`
	Data    string `json:"data"`
	Value   string `json:"value"`
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, scanner *scan.Scanner, repo *history.Repository, logger *logrus.Logger, audit *logging.StructuredLogger, port int) *Server {
	logManager := NewLogManager(1000) // 最多保存1000条日志
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		scanner:      scanner,
		repo:         repo,
		config:       cfg,
		logger:       logger,
		logManager:   logManager,
		errorHandler: sentinelerrors.NewErrorHandler(logger),
		audit:        audit,
		port:         port,
		startTime:    time.Now(),
		byVerdict:    make(map[models.VerdictKind]int64),
	}
}

// Start 启动API服务器
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 扫描
		api.POST("/analyze", s.analyze)

		// 历史查询
		api.GET("/history/:address", s.getHistory)

		// 统计信息
		api.GET("/stats", s.getStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// healthCheck 健康检查。分类器不可达不降级整体健康：扫描可以无ML运行。
func (s *Server) healthCheck(c *gin.Context) {
	classifierStatus := "not_configured"
	if cl := s.scanner.Classifier(); cl.Available() {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if cl.Healthy(ctx) {
			classifierStatus = "healthy"
		} else {
			classifierStatus = "unreachable"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"service":    "sentinel-api",
		"classifier": classifierStatus,
	})
}

// analyze 扫描一笔候选交易
func (s *Server) analyze(c *gin.Context) {
	var body analyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := parseAnalyzeRequest(&body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.scanner.Scan(c.Request.Context(), req)
	if err != nil {
		handled := s.errorHandler.HandleError(c.Request.Context(), err)
		c.JSON(statusForError(err), gin.H{
			"error": handled.Message,
			"code":  handled.Code,
		})
		return
	}

	s.recordScan(resp)
	s.auditScan(req, resp)
	c.JSON(http.StatusOK, resp)
}

// auditScan 把扫描结果写入审计日志
func (s *Server) auditScan(req *models.TransactionRequest, resp *models.AnalyzeResponse) {
	if s.audit == nil || resp.FinalVerdict == nil {
		return
	}
	logging.NewScanLogger(s.audit, req.ChainID, models.CanonicalAddress(req.To)).Info(
		"扫描完成",
		"verdict", string(resp.FinalVerdict.Verdict),
		"risk_score", resp.SecurityReport.RiskScore,
		"confidence", resp.FinalVerdict.Confidence,
	)
}

// parseAnalyzeRequest 把hex字符串请求体解析为内部请求
func parseAnalyzeRequest(body *analyzeRequest) (*models.TransactionRequest, error) {
	chainID, err := models.ParseChainID(body.ChainID)
	if err != nil {
		return nil, err
	}
	from, err := models.ParseAddress(body.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := models.ParseAddress(body.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	data, err := models.ParseHexData(body.Data)
	if err != nil {
		return nil, err
	}
	value, err := models.ParseValue(body.Value)
	if err != nil {
		return nil, err
	}
	return models.NewTransactionRequest(from, to, data, value, chainID), nil
}

// statusForError 错误到HTTP状态码的映射
func statusForError(err error) int {
	var serr *sentinelerrors.SentinelError
	if errors.As(err, &serr) {
		switch serr.Type {
		case sentinelerrors.ErrorTypeValidation:
			return http.StatusBadRequest
		case sentinelerrors.ErrorTypeOracleTimeout, sentinelerrors.ErrorTypeDeadline:
			return http.StatusGatewayTimeout
		case sentinelerrors.ErrorTypeOracleNotReachable, sentinelerrors.ErrorTypeOracle:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

// recordScan 更新裁决计数
func (s *Server) recordScan(resp *models.AnalyzeResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanCount++
	if resp.FinalVerdict != nil {
		s.byVerdict[resp.FinalVerdict.Verdict]++
	}
}

// getHistory 查询地址的历史扫描记录
func (s *Server) getHistory(c *gin.Context) {
	addrParam := c.Param("address")
	addr, err := models.ParseAddress(addrParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= models.HistoryListCap {
			limit = n
		}
	}

	records, err := s.repo.Recent(models.CanonicalAddress(addr), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取历史记录失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": models.CanonicalAddress(addr),
		"records": records,
		"total":   len(records),
	})
}

// getStats 获取统计信息
func (s *Server) getStats(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	verdicts := gin.H{}
	for k, v := range s.byVerdict {
		verdicts[string(k)] = v
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":        time.Since(s.startTime).String(),
		"scan_count":    s.scanCount,
		"verdicts":      verdicts,
		"error_rate_1m": s.errorHandler.GetStats().GetErrorRate(time.Minute),
	})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	pageStr := c.Query("page")
	pageSizeStr := c.Query("pageSize")

	page := 1
	if pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	pageSize := 20
	if pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}
