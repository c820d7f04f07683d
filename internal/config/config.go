package config

import (
	"fmt"
	"os"

	"sentinel/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Chains     []*ChainConfig     `mapstructure:"chains"`
	Scanner    *ScannerConfig     `mapstructure:"scanner"`
	Oracle     *OracleConfig      `mapstructure:"oracle"`
	Classifier *ClassifierConfig  `mapstructure:"classifier"`
	History    *HistoryConfig     `mapstructure:"history"`
	Decoder    *DecoderConfig     `mapstructure:"decoder"`
	Output     *OutputConfig      `mapstructure:"output"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// ChainConfig 单条链的端点配置。端点按序尝试，Premium端点（若配置）始终排在最前。
type ChainConfig struct {
	ChainID         uint64   `mapstructure:"chain_id"`
	Name            string   `mapstructure:"name"`
	PremiumEndpoint string   `mapstructure:"premium_endpoint"`
	Endpoints       []string `mapstructure:"endpoints"`
}

// EndpointList 按优先级排列的完整端点列表
func (c *ChainConfig) EndpointList() []string {
	if c.PremiumEndpoint == "" {
		return c.Endpoints
	}
	out := make([]string, 0, len(c.Endpoints)+1)
	out = append(out, c.PremiumEndpoint)
	out = append(out, c.Endpoints...)
	return out
}

// ScannerConfig 扫描器配置
type ScannerConfig struct {
	GasLimit        uint64 `mapstructure:"gas_limit"`        // 单次模拟gas上限
	DeadlineSeconds int    `mapstructure:"deadline_seconds"` // 扫描总体截止（秒）
	DeepStorage     bool   `mapstructure:"deep_storage"`     // true时预取槽位0..99，否则0..19
	MaxConcurrent   int    `mapstructure:"max_concurrent"`   // 子运行并发上限
}

// OracleConfig 链预言机配置
type OracleConfig struct {
	EndpointTimeout  string `mapstructure:"endpoint_timeout"`  // 单端点超时
	BreakerThreshold int    `mapstructure:"breaker_threshold"` // 熔断连续失败阈值
	BreakerCooldown  string `mapstructure:"breaker_cooldown"`  // 熔断冷却时间
	CodeCacheTTL     string `mapstructure:"code_cache_ttl"`    // 字节码缓存TTL
}

// ClassifierConfig 分类器服务配置
type ClassifierConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	Timeout     string `mapstructure:"timeout"`
	EnableDrift bool   `mapstructure:"enable_drift"` // 是否附加调用漂移异常检测
}

// HistoryConfig 历史存储配置
type HistoryConfig struct {
	Path    string `mapstructure:"path"`     // bbolt数据库路径
	ListCap int    `mapstructure:"list_cap"` // 每地址保留的记录条数
	TTLDays int    `mapstructure:"ttl_days"` // 单条记录TTL（天）
}

// DecoderConfig 选择器解码器配置
type DecoderConfig struct {
	FourByteAPIURL string `mapstructure:"fourbyte_api_url"`
	APITimeout     string `mapstructure:"api_timeout"`
	EnableCache    bool   `mapstructure:"enable_cache"`
	CacheSize      int    `mapstructure:"cache_size"`
	EnableAPI      bool   `mapstructure:"enable_api"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 扫描结果发布配置（供离线训练管道消费，默认关闭）
type OutputConfig struct {
	Enable bool         `mapstructure:"enable"`
	Format string       `mapstructure:"format"` // kafka | json | none
	Path   string       `mapstructure:"path"`   // json格式的输出目录
	Kafka  *KafkaConfig `mapstructure:"kafka"`
}

// RecognizedChainIDs 内置识别的链
var RecognizedChainIDs = []uint64{1, 10, 56, 137, 8453, 42161, 11155111, 31337}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	// 首先尝试从环境变量获取数据库配置
	dbDSN := os.Getenv("SENTINEL_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		return config, nil
	}

	// 检查是否存在数据库配置文件
	dbConfigFile := "configs/database.yaml"
	if _, err := os.Stat(dbConfigFile); err == nil {
		dbViper := viper.New()
		dbViper.SetConfigFile(dbConfigFile)
		dbViper.SetConfigType("yaml")

		if err := dbViper.ReadInConfig(); err == nil {
			dbDSN := dbViper.GetString("database.dsn")
			if dbDSN != "" {
				logger := logrus.New()
				dbConfig, err := NewDatabaseConfig(dbDSN, logger)
				if err == nil {
					defer dbConfig.Close()

					config, err := dbConfig.LoadConfig()
					if err == nil {
						logger.Info("已从数据库加载配置")
						return config, nil
					}
				}
			}
		}
	}

	// 如果数据库配置不可用，回退到YAML文件
	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	cfg := &Config{
		Chains: []*ChainConfig{
			{
				ChainID:   1,
				Name:      "ethereum",
				Endpoints: []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
			},
			{
				ChainID:   31337,
				Name:      "local",
				Endpoints: []string{"http://127.0.0.1:8545"},
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults 填充缺省段
func applyDefaults(cfg *Config) {
	if cfg.Scanner == nil {
		cfg.Scanner = &ScannerConfig{}
	}
	if cfg.Scanner.GasLimit == 0 {
		cfg.Scanner.GasLimit = 5_000_000
	}
	if cfg.Scanner.DeadlineSeconds == 0 {
		cfg.Scanner.DeadlineSeconds = 15
	}
	if cfg.Scanner.MaxConcurrent == 0 {
		cfg.Scanner.MaxConcurrent = 12
	}

	if cfg.Oracle == nil {
		cfg.Oracle = &OracleConfig{}
	}
	if cfg.Oracle.EndpointTimeout == "" {
		cfg.Oracle.EndpointTimeout = "5s"
	}
	if cfg.Oracle.BreakerThreshold == 0 {
		cfg.Oracle.BreakerThreshold = 3
	}
	if cfg.Oracle.BreakerCooldown == "" {
		cfg.Oracle.BreakerCooldown = "60s"
	}
	if cfg.Oracle.CodeCacheTTL == "" {
		cfg.Oracle.CodeCacheTTL = "1h"
	}

	if cfg.Classifier == nil {
		cfg.Classifier = &ClassifierConfig{}
	}
	if cfg.Classifier.Timeout == "" {
		cfg.Classifier.Timeout = "2s"
	}

	if cfg.History == nil {
		cfg.History = &HistoryConfig{}
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "./data/history.db"
	}
	if cfg.History.ListCap == 0 {
		cfg.History.ListCap = 100
	}
	if cfg.History.TTLDays == 0 {
		cfg.History.TTLDays = 30
	}

	if cfg.Decoder == nil {
		cfg.Decoder = &DecoderConfig{
			FourByteAPIURL: "https://www.4byte.directory/api/v1/signatures/",
			APITimeout:     "5s",
			EnableCache:    true,
			CacheSize:      10000,
			EnableAPI:      false,
		}
	}

	if cfg.Output == nil {
		cfg.Output = &OutputConfig{
			Enable: false,
			Format: "none",
			Path:   "./data/output",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"scan_records": "sentinel_scan_records",
					"verdicts":     "sentinel_verdicts",
				},
			},
		}
	}

	if cfg.Logging == nil {
		cfg.Logging = &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		}
	}
}

// FindChain 按链ID查找端点配置
func (c *Config) FindChain(chainID uint64) (*ChainConfig, error) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain, nil
		}
	}
	return nil, fmt.Errorf("未配置的链: %d", chainID)
}
