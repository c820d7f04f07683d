package errors

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器：统一记录、统计并按严重级别落日志
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误回调
	callbacks []ErrorCallback
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *SentinelError)

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// HandleError 处理错误：非SentinelError先包装，再记录与分发
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) *SentinelError {
	if err == nil {
		return nil
	}

	sentinelErr, ok := err.(*SentinelError)
	if !ok {
		sentinelErr = WrapError(err, ErrorTypeOracle, SeverityMedium, "UNCLASSIFIED", "未分类错误")
	}

	eh.recordError(sentinelErr)
	eh.logError(sentinelErr)
	eh.executeCallbacks(sentinelErr)

	return sentinelErr
}

// recordError 记录错误统计
func (eh *ErrorHandler) recordError(err *SentinelError) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats.RecordError(err)
}

// logError 按严重级别落日志
func (eh *ErrorHandler) logError(err *SentinelError) {
	entry := eh.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"code":       err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	})
	if err.ChainID != nil {
		entry = entry.WithField("chain_id", *err.ChainID)
	}
	if err.Address != nil {
		entry = entry.WithField("address", *err.Address)
	}

	switch err.Severity {
	case SeverityCritical:
		entry.Errorf("严重错误: %v", err)
	case SeverityHigh:
		entry.Errorf("高级别错误: %v", err)
	case SeverityMedium:
		entry.Warnf("中级别错误: %v", err)
	default:
		entry.Debugf("低级别错误: %v", err)
	}
}

// executeCallbacks 执行回调
func (eh *ErrorHandler) executeCallbacks(err *SentinelError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调panic: %v", r)
				}
			}()
			callback(err)
		}()
	}
}

// AddCallback 注册错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats
}

// ClearStats 清空错误统计
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
