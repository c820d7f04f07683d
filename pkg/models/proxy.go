package models

import "github.com/ethereum/go-ethereum/common"

// ProxyKind 代理合约类别
type ProxyKind string

const (
	ProxyNone             ProxyKind = "none"
	ProxyEIP1967          ProxyKind = "eip1967_transparent"
	ProxyEIP1822          ProxyKind = "eip1822_uups"
	ProxyEIP897           ProxyKind = "eip897_legacy"
	ProxyEIP1167          ProxyKind = "eip1167_minimal"
	ProxyCustom           ProxyKind = "custom"
	MaxProxyResolveDepth            = 5
)

// ProxyInfo 代理识别结果
type ProxyInfo struct {
	IsProxy        bool            `json:"is_proxy"`
	Kind           ProxyKind       `json:"proxy_kind,omitempty"`
	Implementation *common.Address `json:"implementation,omitempty"`
	Beacon         *common.Address `json:"beacon,omitempty"`
	Admin          *common.Address `json:"admin,omitempty"`
	// Chain 从代理到最终实现的地址序列（含起点，最长5跳，无环）
	Chain []common.Address `json:"resolution_chain,omitempty"`
}

// NoProxy 非代理的固定结果
func NoProxy() *ProxyInfo {
	return &ProxyInfo{IsProxy: false, Kind: ProxyNone}
}

// Depth 解析深度（跳数）
func (p *ProxyInfo) Depth() int {
	if p == nil || len(p.Chain) == 0 {
		return 0
	}
	return len(p.Chain) - 1
}

// Target 分析应落在的最终地址（非代理时为nil）
func (p *ProxyInfo) Target() *common.Address {
	if p == nil || !p.IsProxy || len(p.Chain) == 0 {
		return nil
	}
	addr := p.Chain[len(p.Chain)-1]
	return &addr
}
