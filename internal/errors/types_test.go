package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSentinelError(t *testing.T) {
	err := NewSentinelError(ErrorTypeOracle, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeOracle, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // 预言机错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeEvm, SeverityMedium, "WRAPPED_ERROR", "包装错误")

	assert.NotNil(t, wrappedErr)
	assert.Equal(t, ErrorTypeEvm, wrappedErr.Type)
	assert.Equal(t, SeverityMedium, wrappedErr.Severity)
	assert.Equal(t, "WRAPPED_ERROR", wrappedErr.Code)
	assert.Equal(t, "包装错误", wrappedErr.Message)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Contains(t, wrappedErr.Error(), "原始错误")
}

func TestSentinelError_Error(t *testing.T) {
	// 测试没有原因的错误
	err := NewSentinelError(ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	expected := "[TEST_CODE] 测试消息"
	assert.Equal(t, expected, err.Error())

	// 测试有原因的错误
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	expectedWithCause := "[TEST_CODE] 测试消息: 原始错误"
	assert.Equal(t, expectedWithCause, wrappedErr.Error())
}

func TestSentinelError_Unwrap(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeEvm, SeverityMedium, "WRAPPED", "包装")

	unwrapped := wrappedErr.Unwrap()
	assert.Equal(t, originalErr, unwrapped)

	// 测试没有原因的错误
	standaloneErr := NewSentinelError(ErrorTypeValidation, SeverityLow, "STANDALONE", "独立错误")
	assert.Nil(t, standaloneErr.Unwrap())
}

func TestSentinelError_IsRetryable(t *testing.T) {
	// 可重试的错误
	retryableErr := NewSentinelError(ErrorTypeOracleTimeout, SeverityMedium, "ORACLE_TIMEOUT", "预言机超时")
	assert.True(t, retryableErr.IsRetryable())

	// 不可重试的错误
	nonRetryableErr := NewSentinelError(ErrorTypeConfig, SeverityCritical, "CONFIG_ERROR", "配置错误")
	assert.False(t, nonRetryableErr.IsRetryable())
}

func TestSentinelError_IsFatal(t *testing.T) {
	assert.True(t, ErrEvmInvariantBroken.IsFatal())
	assert.False(t, ErrOracleTimeout.IsFatal())
	assert.False(t, ErrClassifierUnavailable.IsFatal())
}

func TestSentinelError_WithContext(t *testing.T) {
	err := NewSentinelError(ErrorTypeOracle, SeverityMedium, "ORACLE_ERROR", "预言机错误")

	err.WithContext("endpoint", "https://eth.llamarpc.com")
	err.WithContext("attempt", 3)

	assert.NotNil(t, err.Context)
	assert.Equal(t, "https://eth.llamarpc.com", err.Context["endpoint"])
	assert.Equal(t, 3, err.Context["attempt"])
}

func TestSentinelError_WithChainID(t *testing.T) {
	err := NewSentinelError(ErrorTypeOracle, SeverityMedium, "ORACLE_ERROR", "预言机错误")

	err.WithChainID(56)

	assert.NotNil(t, err.ChainID)
	assert.Equal(t, uint64(56), *err.ChainID)
}

func TestSentinelError_WithAddress(t *testing.T) {
	err := NewSentinelError(ErrorTypeEvm, SeverityHigh, "EVM_ERROR", "沙盘错误")

	addr := "0x1234567890abcdef1234567890abcdef12345678"
	err.WithAddress(addr)

	assert.NotNil(t, err.Address)
	assert.Equal(t, addr, *err.Address)
}

func TestDetermineRetryable(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  bool
	}{
		{ErrorTypeOracle, true},
		{ErrorTypeOracleTimeout, true},
		{ErrorTypeOracleNotReachable, true},
		{ErrorTypeClassifierUnavailable, true},
		{ErrorTypeHistoryUnavailable, true},
		{ErrorTypeOracleCircuitOpen, false},
		{ErrorTypeOracleInvalidResponse, false},
		{ErrorTypeEvmInvariantBroken, false},
		{ErrorTypeResolverCycle, false},
		{ErrorTypeConfig, false},
	}

	for _, tt := range tests {
		result := determineRetryable(tt.errorType)
		assert.Equal(t, tt.expected, result, "errorType=%v", tt.errorType)
	}
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrorTypeOracle, "Oracle"},
		{ErrorTypeOracleTimeout, "OracleTimeout"},
		{ErrorTypeEvmInvariantBroken, "EvmInvariantBroken"},
		{ErrorTypeResolverCycle, "ResolverCycleDetected"},
		{ErrorTypeValidation, "Validation"},
		{ErrorType(999), "Unknown(999)"}, // 未知类型
	}

	for _, tt := range tests {
		result := tt.errorType.String()
		assert.Equal(t, tt.expected, result)
	}
}

func TestErrorSeverity_String(t *testing.T) {
	tests := []struct {
		severity ErrorSeverity
		expected string
	}{
		{SeverityLow, "Low"},
		{SeverityMedium, "Medium"},
		{SeverityHigh, "High"},
		{SeverityCritical, "Critical"},
		{ErrorSeverity(999), "Unknown(999)"}, // 未知严重级别
	}

	for _, tt := range tests {
		result := tt.severity.String()
		assert.Equal(t, tt.expected, result)
	}
}

func TestNewErrorStats(t *testing.T) {
	stats := NewErrorStats()

	assert.NotNil(t, stats)
	assert.Equal(t, 0, stats.TotalErrors)
	assert.NotNil(t, stats.ErrorsByType)
	assert.NotNil(t, stats.ErrorsBySeverity)
	assert.NotNil(t, stats.ErrorsByComponent)
	assert.NotNil(t, stats.RecentErrors)
	assert.Empty(t, stats.RecentErrors)
	assert.Nil(t, stats.LastError)
}

func TestErrorStats_RecordError(t *testing.T) {
	stats := NewErrorStats()

	err1 := NewSentinelError(ErrorTypeOracle, SeverityMedium, "ORACLE_ERROR", "预言机错误")
	err1.Component = "oracle_client"

	err2 := NewSentinelError(ErrorTypeEvm, SeverityHigh, "EVM_ERROR", "沙盘错误")
	err2.Component = "oracle_client"

	err3 := NewSentinelError(ErrorTypeOracle, SeverityLow, "ORACLE_TIMEOUT", "预言机超时")
	err3.Component = "api"

	stats.RecordError(err1)
	stats.RecordError(err2)
	stats.RecordError(err3)

	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 2, stats.ErrorsByType[ErrorTypeOracle])
	assert.Equal(t, 1, stats.ErrorsByType[ErrorTypeEvm])
	assert.Equal(t, 1, stats.ErrorsBySeverity[SeverityLow])
	assert.Equal(t, 1, stats.ErrorsBySeverity[SeverityMedium])
	assert.Equal(t, 1, stats.ErrorsBySeverity[SeverityHigh])
	assert.Equal(t, 2, stats.ErrorsByComponent["oracle_client"])
	assert.Equal(t, 1, stats.ErrorsByComponent["api"])
	assert.Equal(t, err3, stats.LastError)
	assert.Equal(t, 3, len(stats.RecentErrors))
}

func TestErrorStats_RecordError_RecentErrorsLimit(t *testing.T) {
	stats := NewErrorStats()

	// 添加超过100个错误
	for i := 0; i < 150; i++ {
		err := NewSentinelError(ErrorTypeOracle, SeverityLow, "TEST_ERROR", "测试错误")
		stats.RecordError(err)
	}

	assert.Equal(t, 150, stats.TotalErrors)
	assert.Equal(t, 100, len(stats.RecentErrors)) // 应该限制在100个
}

func TestErrorStats_GetErrorRate(t *testing.T) {
	stats := NewErrorStats()

	now := time.Now()

	// 添加一些在过去1小时内的错误
	for i := 0; i < 10; i++ {
		err := NewSentinelError(ErrorTypeOracle, SeverityLow, "TEST_ERROR", "测试错误")
		err.Timestamp = now.Add(-time.Duration(i*5) * time.Minute) // 每5分钟一个错误
		stats.RecentErrors = append(stats.RecentErrors, err)
	}

	// 添加一些超过1小时的错误
	for i := 0; i < 5; i++ {
		err := NewSentinelError(ErrorTypeOracle, SeverityLow, "OLD_ERROR", "旧错误")
		err.Timestamp = now.Add(-time.Duration(70+i*10) * time.Minute) // 超过1小时前
		stats.RecentErrors = append(stats.RecentErrors, err)
	}

	// 测试1小时的错误率
	hourlyRate := stats.GetErrorRate(time.Hour)
	assert.Equal(t, 10.0, hourlyRate) // 应该只计算过去1小时内的10个错误

	// 测试0持续时间
	zeroRate := stats.GetErrorRate(0)
	assert.Equal(t, 0.0, zeroRate)

	// 测试30分钟的错误率
	halfHourRate := stats.GetErrorRate(30 * time.Minute)
	assert.Equal(t, 12.0, halfHourRate) // 30分钟内的6个错误 * 2 = 12错误/小时
}

func TestPredefinedErrors(t *testing.T) {
	// 测试预定义错误是否正确初始化
	assert.Equal(t, ErrorTypeOracleTimeout, ErrOracleTimeout.Type)
	assert.Equal(t, "ORACLE_TIMEOUT", ErrOracleTimeout.Code)
	assert.True(t, ErrOracleTimeout.Retryable)

	assert.Equal(t, ErrorTypeOracleNotReachable, ErrOracleNotReachable.Type)
	assert.Equal(t, "ORACLE_NOT_REACHABLE", ErrOracleNotReachable.Code)
	assert.True(t, ErrOracleNotReachable.Retryable)

	assert.Equal(t, ErrorTypeEvmInvariantBroken, ErrEvmInvariantBroken.Type)
	assert.Equal(t, SeverityCritical, ErrEvmInvariantBroken.Severity)
	assert.Equal(t, "EVM_INVARIANT_BROKEN", ErrEvmInvariantBroken.Code)

	assert.Equal(t, ErrorTypeConfig, ErrConfigInvalid.Type)
	assert.Equal(t, SeverityCritical, ErrConfigInvalid.Severity)
	assert.False(t, ErrConfigInvalid.Retryable)
}

// 基准测试
func BenchmarkNewSentinelError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewSentinelError(ErrorTypeOracle, SeverityMedium, "BENCH_ERROR", "基准测试错误")
	}
}

func BenchmarkErrorStats_RecordError(b *testing.B) {
	stats := NewErrorStats()
	err := NewSentinelError(ErrorTypeOracle, SeverityMedium, "BENCH_ERROR", "基准测试错误")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stats.RecordError(err)
	}
}

func BenchmarkSentinelError_Error(b *testing.B) {
	err := NewSentinelError(ErrorTypeOracle, SeverityMedium, "BENCH_ERROR", "基准测试错误")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = err.Error()
	}
}
