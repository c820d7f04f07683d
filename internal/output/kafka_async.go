package output

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sentinel/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// AsyncKafkaOutput 异步Kafka输出器
type AsyncKafkaOutput struct {
	logger      *logrus.Logger
	topics      map[string]string
	producer    sarama.AsyncProducer
	successChan <-chan *sarama.ProducerMessage
	errorChan   <-chan *sarama.ProducerError
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// 统计信息
	sentCount  int64
	errorCount int64
	mu         sync.RWMutex
}

// NewAsyncKafkaOutput 创建异步Kafka输出器
func NewAsyncKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaOutput, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	config := sarama.NewConfig()

	// 异步生产者配置
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Version = sarama.V2_8_0_0

	// 批量与压缩
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Flush.Bytes = 1024 * 1024
	config.Producer.Compression = sarama.CompressionSnappy

	config.ChannelBufferSize = 1000

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	asyncOutput := &AsyncKafkaOutput{
		logger:      logger,
		topics:      topics,
		producer:    producer,
		successChan: producer.Successes(),
		errorChan:   producer.Errors(),
		ctx:         ctx,
		cancel:      cancel,
	}

	asyncOutput.startBackgroundHandlers()

	logger.Info("异步Kafka生产者已创建并启动")
	return asyncOutput, nil
}

// startBackgroundHandlers 启动后台处理程序
func (k *AsyncKafkaOutput) startBackgroundHandlers() {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.handleSuccesses()
	}()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.handleErrors()
	}()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.reportStats()
	}()
}

// handleSuccesses 处理成功发送的消息
func (k *AsyncKafkaOutput) handleSuccesses() {
	for {
		select {
		case success := <-k.successChan:
			if success != nil {
				k.mu.Lock()
				k.sentCount++
				k.mu.Unlock()

				k.logger.Debugf("消息成功发送到 topic %s, partition %d, offset %d",
					success.Topic, success.Partition, success.Offset)
			}
		case <-k.ctx.Done():
			k.logger.Debug("成功消息处理器停止")
			return
		}
	}
}

// handleErrors 处理发送失败的消息
func (k *AsyncKafkaOutput) handleErrors() {
	for {
		select {
		case err := <-k.errorChan:
			if err != nil {
				k.mu.Lock()
				k.errorCount++
				k.mu.Unlock()

				k.logger.Errorf("Kafka发送失败: topic=%s, partition=%d, offset=%d, error=%v",
					err.Msg.Topic, err.Msg.Partition, err.Msg.Offset, err.Err)
			}
		case <-k.ctx.Done():
			k.logger.Debug("错误消息处理器停止")
			return
		}
	}
}

// reportStats 定期报告统计信息
func (k *AsyncKafkaOutput) reportStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.mu.RLock()
			sent := k.sentCount
			errors := k.errorCount
			k.mu.RUnlock()

			if sent > 0 || errors > 0 {
				successRate := float64(sent) / float64(sent+errors) * 100
				k.logger.Infof("Kafka统计: 已发送 %d 条消息, 失败 %d 条, 成功率 %.2f%%",
					sent, errors, successRate)
			}
		case <-k.ctx.Done():
			k.logger.Debug("统计报告器停止")
			return
		}
	}
}

// sendToKafkaAsync 异步发送数据到Kafka
func (k *AsyncKafkaOutput) sendToKafkaAsync(topic string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	case <-k.ctx.Done():
		return fmt.Errorf("Kafka生产者已关闭")
	default:
		return fmt.Errorf("Kafka生产者输入通道已满")
	}
}

// WriteScanRecord 异步写入扫描记录
func (k *AsyncKafkaOutput) WriteScanRecord(record *models.ScanRecord) error {
	if record == nil {
		return nil
	}

	topic, exists := k.topics["scan_records"]
	if !exists {
		topic = "sentinel_scan_records"
	}

	return k.sendToKafkaAsync(topic, record)
}

// WriteVerdict 异步写入裁决事件
func (k *AsyncKafkaOutput) WriteVerdict(msg *VerdictMessage) error {
	if msg == nil {
		return nil
	}

	topic, exists := k.topics["verdicts"]
	if !exists {
		topic = "sentinel_verdicts"
	}

	return k.sendToKafkaAsync(topic, msg)
}

// Flush 刷新所有缓冲的消息
func (k *AsyncKafkaOutput) Flush() error {
	k.logger.Info("刷新Kafka生产者缓冲区...")

	// 等待异步消息处理完成
	time.Sleep(1 * time.Second)

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if len(k.producer.Input()) == 0 {
				k.logger.Info("Kafka缓冲区刷新完成")
				return nil
			}
		case <-timeout:
			return fmt.Errorf("刷新Kafka缓冲区超时")
		}
	}
}

// Close 关闭异步Kafka输出器
func (k *AsyncKafkaOutput) Close() error {
	k.logger.Info("关闭异步Kafka输出器...")

	if err := k.Flush(); err != nil {
		k.logger.Warnf("刷新缓冲区时出错: %v", err)
	}

	k.cancel()

	if err := k.producer.Close(); err != nil {
		k.logger.Errorf("关闭Kafka生产者失败: %v", err)
		return fmt.Errorf("关闭Kafka生产者失败: %w", err)
	}

	k.wg.Wait()

	k.mu.RLock()
	sent := k.sentCount
	errors := k.errorCount
	k.mu.RUnlock()
	k.logger.Infof("异步Kafka输出器已关闭，共发送 %d 条消息，失败 %d 条", sent, errors)

	return nil
}

// GetStats 获取发送统计
func (k *AsyncKafkaOutput) GetStats() (sent, errors int64) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sentCount, k.errorCount
}
