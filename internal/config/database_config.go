package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := &Config{}

	chains, err := dc.loadChainEndpoints()
	if err != nil {
		return nil, fmt.Errorf("加载链端点配置失败: %w", err)
	}
	config.Chains = chains

	scannerConfig, err := dc.loadScannerConfig()
	if err != nil {
		return nil, fmt.Errorf("加载扫描器配置失败: %w", err)
	}
	config.Scanner = scannerConfig

	classifierConfig, err := dc.loadClassifierConfig()
	if err != nil {
		return nil, fmt.Errorf("加载分类器配置失败: %w", err)
	}
	config.Classifier = classifierConfig

	applyDefaults(config)
	return config, nil
}

// loadChainEndpoints 加载链端点配置
func (dc *DatabaseConfig) loadChainEndpoints() ([]*ChainConfig, error) {
	query := `SELECT chain_id, chain_name, url, is_premium FROM chain_endpoints WHERE is_active = true ORDER BY chain_id, priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uint64]*ChainConfig)
	var order []uint64

	for rows.Next() {
		var chainID uint64
		var name, url string
		var isPremium bool
		if err := rows.Scan(&chainID, &name, &url, &isPremium); err != nil {
			return nil, err
		}

		chain, ok := byID[chainID]
		if !ok {
			chain = &ChainConfig{ChainID: chainID, Name: name}
			byID[chainID] = chain
			order = append(order, chainID)
		}
		if isPremium {
			chain.PremiumEndpoint = url
		} else {
			chain.Endpoints = append(chain.Endpoints, url)
		}
	}

	chains := make([]*ChainConfig, 0, len(order))
	for _, id := range order {
		chains = append(chains, byID[id])
	}
	return chains, nil
}

// loadScannerConfig 加载扫描器配置
func (dc *DatabaseConfig) loadScannerConfig() (*ScannerConfig, error) {
	query := `SELECT config_key, config_value FROM scanner_settings WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	config := &ScannerConfig{}

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		switch key {
		case "gas_limit":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				config.GasLimit = v
			}
		case "deadline_seconds":
			if v, err := strconv.Atoi(value); err == nil {
				config.DeadlineSeconds = v
			}
		case "deep_storage":
			config.DeepStorage = strings.ToLower(value) == "true"
		case "max_concurrent":
			if v, err := strconv.Atoi(value); err == nil {
				config.MaxConcurrent = v
			}
		}
	}

	return config, nil
}

// loadClassifierConfig 加载分类器配置
func (dc *DatabaseConfig) loadClassifierConfig() (*ClassifierConfig, error) {
	query := `SELECT config_key, config_value FROM classifier_settings WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	config := &ClassifierConfig{}

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		switch key {
		case "base_url":
			config.BaseURL = value
		case "timeout":
			config.Timeout = value
		case "enable_drift":
			config.EnableDrift = strings.ToLower(value) == "true"
		}
	}

	return config, nil
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	return dc.DB.Close()
}
