package models

import "github.com/ethereum/go-ethereum/common"

// OwnershipStatus 合约所有权状态
type OwnershipStatus string

const (
	OwnershipRenounced   OwnershipStatus = "Renounced"
	OwnershipCentralized OwnershipStatus = "Centralized"
	OwnershipUnknown     OwnershipStatus = "Unknown"
)

// StorySeverity 机制叙事严重程度
type StorySeverity string

const (
	SeveritySafe   StorySeverity = "Safe"
	SeverityLow    StorySeverity = "Low"
	SeverityMedium StorySeverity = "Medium"
	SeverityHigh   StorySeverity = "High"
)

// MechanismStory 面向用户的机制叙事
type MechanismStory struct {
	Title    string        `json:"title"`
	Story    string        `json:"story"`
	Severity StorySeverity `json:"severity"`
}

// SecurityReport 静态分析产出的基础安全报告。
// Flags是稳定英文标签的集合，标签字符串本身是对外契约，禁止改名。
type SecurityReport struct {
	RiskScore           int             `json:"risk_score"`
	IsHoneypot          bool            `json:"is_honeypot"`
	OwnershipStatus     OwnershipStatus `json:"ownership_status"`
	Owner               *common.Address `json:"owner_address,omitempty"`
	Flags               []string        `json:"flags"`
	MechanismStory      *MechanismStory `json:"mechanism_story"`
	FriendlyExplanation string          `json:"friendly_explanation"`
	ProxyInfo           *ProxyInfo      `json:"proxy_info,omitempty"`
	TracingEvents       []string        `json:"tracing_events"`

	flagSet map[string]bool
}

// NewSecurityReport 创建空报告
func NewSecurityReport() *SecurityReport {
	return &SecurityReport{
		OwnershipStatus: OwnershipUnknown,
		Flags:           make([]string, 0, 8),
		TracingEvents:   make([]string, 0),
		flagSet:         make(map[string]bool),
	}
}

// AddFlag 追加标签（集合语义，重复追加无效果）
func (r *SecurityReport) AddFlag(flag string) {
	if r.flagSet == nil {
		r.flagSet = make(map[string]bool)
		for _, f := range r.Flags {
			r.flagSet[f] = true
		}
	}
	if r.flagSet[flag] {
		return
	}
	r.flagSet[flag] = true
	r.Flags = append(r.Flags, flag)
}

// HasFlag 是否已存在某标签
func (r *SecurityReport) HasFlag(flag string) bool {
	if r.flagSet != nil {
		return r.flagSet[flag]
	}
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddRisk 累加风险分并饱和到[0,100]
func (r *SecurityReport) AddRisk(delta int) {
	r.RiskScore += delta
	if r.RiskScore > 100 {
		r.RiskScore = 100
	}
	if r.RiskScore < 0 {
		r.RiskScore = 0
	}
}

// SetOwner 设置所有者并同步所有权状态。
// 不变式：Renounced ⇔ owner为零地址；Centralized ⇔ owner为非零地址。
func (r *SecurityReport) SetOwner(owner common.Address) {
	o := owner
	r.Owner = &o
	if owner == (common.Address{}) {
		r.OwnershipStatus = OwnershipRenounced
	} else {
		r.OwnershipStatus = OwnershipCentralized
	}
}
