package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 链预言机错误
	ErrorTypeOracle ErrorType = iota
	ErrorTypeOracleTimeout
	ErrorTypeOracleNotReachable
	ErrorTypeOracleInvalidResponse
	ErrorTypeOracleCircuitOpen

	// EVM执行沙盘错误
	ErrorTypeEvm
	ErrorTypeEvmInvariantBroken

	// 代理解析错误
	ErrorTypeResolverCycle
	ErrorTypeResolverDepth

	// 分类器错误
	ErrorTypeClassifierUnavailable
	ErrorTypeClassifierMalformed

	// 历史存储错误
	ErrorTypeHistoryUnavailable

	// 扫描级错误
	ErrorTypeDeadline
	ErrorTypeValidation
	ErrorTypeConfig
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// SentinelError 自定义错误类型
type SentinelError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	ChainID   *uint64                `json:"chain_id,omitempty"`
	Address   *string                `json:"address,omitempty"`
}

// Error 实现error接口
func (e *SentinelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *SentinelError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *SentinelError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal 是否会终止整个扫描（仅EVM不变式破坏）
func (e *SentinelError) IsFatal() bool {
	return e.Type == ErrorTypeEvmInvariantBroken
}

// WithContext 添加上下文信息
func (e *SentinelError) WithContext(key string, value interface{}) *SentinelError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithChainID 添加链标识
func (e *SentinelError) WithChainID(chainID uint64) *SentinelError {
	e.ChainID = &chainID
	return e
}

// WithAddress 添加合约地址
func (e *SentinelError) WithAddress(address string) *SentinelError {
	e.Address = &address
	return e
}

// NewSentinelError 创建新的错误
func NewSentinelError(errorType ErrorType, severity ErrorSeverity, code, message string) *SentinelError {
	return &SentinelError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *SentinelError {
	return &SentinelError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeOracle, ErrorTypeOracleTimeout, ErrorTypeOracleNotReachable:
		return true
	case ErrorTypeClassifierUnavailable, ErrorTypeHistoryUnavailable:
		return true
	default:
		// 熔断、无效响应、EVM不变式、解析器环路等重试无意义
		return false
	}
}

// 预定义错误
var (
	// 预言机错误
	ErrOracleTimeout = NewSentinelError(
		ErrorTypeOracleTimeout,
		SeverityMedium,
		"ORACLE_TIMEOUT",
		"链预言机请求超时",
	)

	ErrOracleNotReachable = NewSentinelError(
		ErrorTypeOracleNotReachable,
		SeverityHigh,
		"ORACLE_NOT_REACHABLE",
		"链预言机全部端点不可达",
	)

	ErrOracleInvalidResponse = NewSentinelError(
		ErrorTypeOracleInvalidResponse,
		SeverityMedium,
		"ORACLE_INVALID_RESPONSE",
		"链预言机响应无效",
	)

	ErrOracleCircuitOpen = NewSentinelError(
		ErrorTypeOracleCircuitOpen,
		SeverityMedium,
		"ORACLE_CIRCUIT_OPEN",
		"端点熔断中",
	)

	// EVM沙盘错误
	ErrEvmInvariantBroken = NewSentinelError(
		ErrorTypeEvmInvariantBroken,
		SeverityCritical,
		"EVM_INVARIANT_BROKEN",
		"EVM沙盘内部不变式被破坏",
	)

	// 代理解析错误（非致命，停止遍历即可）
	ErrResolverCycle = NewSentinelError(
		ErrorTypeResolverCycle,
		SeverityLow,
		"RESOLVER_CYCLE_DETECTED",
		"代理解析链出现环路",
	)

	ErrResolverDepth = NewSentinelError(
		ErrorTypeResolverDepth,
		SeverityLow,
		"RESOLVER_DEPTH_EXCEEDED",
		"代理解析超过最大深度",
	)

	// 分类器错误（非致命）
	ErrClassifierUnavailable = NewSentinelError(
		ErrorTypeClassifierUnavailable,
		SeverityLow,
		"CLASSIFIER_UNAVAILABLE",
		"分类器服务不可达",
	)

	ErrClassifierMalformed = NewSentinelError(
		ErrorTypeClassifierMalformed,
		SeverityLow,
		"CLASSIFIER_MALFORMED",
		"分类器响应格式错误",
	)

	// 历史存储错误（非致命，省略漂移分析）
	ErrHistoryUnavailable = NewSentinelError(
		ErrorTypeHistoryUnavailable,
		SeverityLow,
		"HISTORY_UNAVAILABLE",
		"历史存储不可用",
	)

	// 扫描级错误
	ErrDeadlineExceeded = NewSentinelError(
		ErrorTypeDeadline,
		SeverityMedium,
		"SCAN_DEADLINE_EXCEEDED",
		"扫描超过总体截止时间",
	)

	ErrValidationFailed = NewSentinelError(
		ErrorTypeValidation,
		SeverityMedium,
		"VALIDATION_FAILED",
		"请求校验失败",
	)

	ErrConfigInvalid = NewSentinelError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeOracle:                "Oracle",
	ErrorTypeOracleTimeout:         "OracleTimeout",
	ErrorTypeOracleNotReachable:    "OracleNotReachable",
	ErrorTypeOracleInvalidResponse: "OracleInvalidResponse",
	ErrorTypeOracleCircuitOpen:     "OracleCircuitOpen",
	ErrorTypeEvm:                   "Evm",
	ErrorTypeEvmInvariantBroken:    "EvmInvariantBroken",
	ErrorTypeResolverCycle:         "ResolverCycleDetected",
	ErrorTypeResolverDepth:         "ResolverDepthExceeded",
	ErrorTypeClassifierUnavailable: "ClassifierUnavailable",
	ErrorTypeClassifierMalformed:   "ClassifierMalformed",
	ErrorTypeHistoryUnavailable:    "HistoryUnavailable",
	ErrorTypeDeadline:              "Deadline",
	ErrorTypeValidation:            "Validation",
	ErrorTypeConfig:                "Config",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*SentinelError      `json:"recent_errors"`
	LastError         *SentinelError        `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*SentinelError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *SentinelError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0

	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}

	return float64(recentCount) / hours
}
