package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// 历史存储约束
const (
	HistoryListCap      = 100
	ScanRecordTTLDays   = 30
	CapabilityHashWidth = 16
)

// ScanRecord 单次扫描的持久化记录（行级JSON，写入历史存储）
type ScanRecord struct {
	TimestampMs     uint64          `json:"timestamp_ms"`
	ChainID         uint64          `json:"chain_id"`
	Address         string          `json:"address"`
	RiskScore       int             `json:"risk_score"`
	Flags           []string        `json:"flags"`
	CapabilityHash  string          `json:"capability_hash"`
	IsHoneypot      bool            `json:"is_honeypot"`
	OwnershipStatus OwnershipStatus `json:"ownership_status"`
	ProxyInfo       *ProxyInfo      `json:"proxy_info,omitempty"`
}

// CapabilityHash 标签集合的紧凑身份：sha256(排序后以"|"连接)前16个hex字符。
// 与标签顺序无关，集合变化时必然变化。
func CapabilityHash(flags []string) string {
	sorted := make([]string, len(flags))
	copy(sorted, flags)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])[:CapabilityHashWidth]
}

// DriftAnalysis 与上次扫描的行为漂移对比
type DriftAnalysis struct {
	HasDrift     bool        `json:"has_drift"`
	RiskDelta    int         `json:"risk_delta"`
	NewFlags     []string    `json:"new_flags"`
	RemovedFlags []string    `json:"removed_flags"`
	Prior        *ScanRecord `json:"-"`
	// PreviousScanTimestamp 上次扫描时间（毫秒），无历史时为0
	PreviousScanTimestamp uint64 `json:"previous_scan_timestamp,omitempty"`
	// AnomalyDetected 分类器侧漂移异常检测结果（可选补充信号）
	AnomalyDetected bool `json:"anomaly_detected,omitempty"`
}
