package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/retry"
	"sentinel/pkg/models"

	"github.com/sirupsen/logrus"
)

// VerdictMessage 裁决事件的发布封装
type VerdictMessage struct {
	TimestampMs uint64               `json:"timestamp_ms"`
	ChainID     uint64               `json:"chain_id"`
	Address     string               `json:"address"`
	From        string               `json:"from"`
	Verdict     *models.FinalVerdict `json:"verdict"`
}

// Output 扫描结果发布接口。供离线训练管道与风控看板消费。
type Output interface {
	WriteScanRecord(record *models.ScanRecord) error
	WriteVerdict(msg *VerdictMessage) error
	Close() error
}

// NewOutput 创建输出器。format取值：kafka、json、none。
func NewOutput(format, outputPath string, kafkaConfig *config.KafkaConfig, logger *logrus.Logger) (Output, error) {
	switch format {
	case "kafka":
		brokers := []string{"localhost:9092"}
		topics := map[string]string{
			"scan_records": "sentinel_scan_records",
			"verdicts":     "sentinel_verdicts",
		}
		if kafkaConfig != nil {
			if len(kafkaConfig.Brokers) > 0 {
				brokers = kafkaConfig.Brokers
			}
			if len(kafkaConfig.Topics) > 0 {
				topics = kafkaConfig.Topics
			}
		}

		// broker暂时不可达属于可重试故障
		var k *AsyncKafkaOutput
		err := retry.RetryNetworkOperation(context.Background(), "连接Kafka", func() error {
			var err error
			k, err = NewAsyncKafkaOutput(brokers, topics, logger)
			return err
		}, logger)
		if err != nil {
			return nil, err
		}
		return k, nil

	case "json":
		return newFileOutput(outputPath)

	case "none", "":
		return &NoopOutput{}, nil

	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", format)
	}
}

// NoopOutput 关闭发布时的空实现
type NoopOutput struct{}

func (*NoopOutput) WriteScanRecord(*models.ScanRecord) error { return nil }
func (*NoopOutput) WriteVerdict(*VerdictMessage) error       { return nil }
func (*NoopOutput) Close() error                             { return nil }

// FileOutput 行式JSON文件输出
type FileOutput struct {
	recordFile  *os.File
	verdictFile *os.File
}

// newFileOutput 创建文件输出器
func newFileOutput(outputDir string) (*FileOutput, error) {
	if outputDir == "" {
		outputDir = "./data/output"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")

	recordFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("scan_records_%s.json", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建扫描记录文件失败: %w", err)
	}

	verdictFile, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("verdicts_%s.json", timestamp)))
	if err != nil {
		recordFile.Close()
		return nil, fmt.Errorf("创建裁决文件失败: %w", err)
	}

	return &FileOutput{recordFile: recordFile, verdictFile: verdictFile}, nil
}

// writeLine 序列化为一行JSON并落盘
func writeLine(f *os.File, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return f.Sync()
}

// WriteScanRecord 写入扫描记录
func (o *FileOutput) WriteScanRecord(record *models.ScanRecord) error {
	if record == nil {
		return nil
	}
	return writeLine(o.recordFile, record)
}

// WriteVerdict 写入裁决事件
func (o *FileOutput) WriteVerdict(msg *VerdictMessage) error {
	if msg == nil {
		return nil
	}
	return writeLine(o.verdictFile, msg)
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	var errs []error
	if o.recordFile != nil {
		if err := o.recordFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭扫描记录文件失败: %w", err))
		}
	}
	if o.verdictFile != nil {
		if err := o.verdictFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭裁决文件失败: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}
