package analyzer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"sentinel/internal/harness"
	"sentinel/internal/oracle"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ownerSelector owner() 的函数选择器
var ownerSelector = common.FromHex("0x8da5cb5b")

// SelectorEntry 选择器目录中的一条
type SelectorEntry struct {
	Label    string
	Selector string
	Risk     int
}

// SelectorCatalogue 已知危险函数选择器目录。
// 标签、选择器与权重是对外契约，顺序固定以保证标签输出确定。
var SelectorCatalogue = []SelectorEntry{
	{"blacklist(address)", "f9f92be4", 50},
	{"pause()", "8456cb59", 30},
	{"_pause()", "2f2b3887", 30},
	{"enableTrading()", "8a8c523c", 20},
	{"openTrading()", "c9044b7d", 20},
	{"setFee(uint256)", "69fe0e2d", 25},
	{"setTaxFeePercent(uint256)", "061c82d0", 25},
	{"setMarketingFee(uint256)", "2323cc66", 20},
	{"updateFees(uint256,uint256)", "37b8d80f", 20},
	{"mint(address,uint256)", "40c10f19", 60},
	{"_mint(address,uint256)", "9c0f929c", 60},
	{"removeLiquidity", "78265506", 90},
	{"removeLiquidityETH", "af2979eb", 90},
	{"drain()", "d040220a", 100},
	{"withdrawETH()", "474cf53d", 50},
	{"_transfer", "30e0789e", 40},
	{"_beforeTokenTransfer", "38d52e0f", 30},
	{"setMaxTxAmount", "83151877", 20},
}

// Input 一次静态分析的输入
type Input struct {
	ChainID uint64
	Address common.Address
	// Code 分析落点的字节码（代理已再归位）
	Code []byte
	// ProxyCode 起点代理自身的字节码（非代理时为nil）
	ProxyCode []byte
	// Storage 预取的存储槽，供沙盘内owner()调用使用
	Storage map[common.Hash]common.Hash
	// Baseline 基线模拟结果（回滚时加分）
	Baseline *models.Outcome
	// Trace 基线追踪结果
	Trace *models.TraceResult
	// Proxy 代理解析结果
	Proxy *models.ProxyInfo
}

// Analyzer 静态字节码分析器。只消费已部署字节码与owner()查询，产出基础安全报告。
type Analyzer struct {
	oracle oracle.Oracle
	logger *logrus.Logger
}

// New 创建分析器
func New(o oracle.Oracle, logger *logrus.Logger) *Analyzer {
	return &Analyzer{oracle: o, logger: logger}
}

// Analyze 产出基础安全报告
func (a *Analyzer) Analyze(ctx context.Context, in *Input) *models.SecurityReport {
	report := models.NewSecurityReport()
	report.ProxyInfo = in.Proxy

	if in.Proxy != nil && in.Proxy.IsProxy {
		report.AddFlag(proxyFlag(in.Proxy.Kind))
	}

	// 选择器目录扫描：在原始hex中找4字节选择器。
	// 代理自身的字节码一并扫描，管理面入口常落在代理层而非实现层。
	codeHex := hex.EncodeToString(in.Code)
	proxyHex := hex.EncodeToString(in.ProxyCode)
	hits := 0
	for _, entry := range SelectorCatalogue {
		if strings.Contains(codeHex, entry.Selector) || strings.Contains(proxyHex, entry.Selector) {
			report.AddFlag("Suspicious Function: " + entry.Label)
			report.AddRisk(entry.Risk)
			hits++
		}
	}
	// 命中任何危险选择器即按蜜罐对待（刻意激进的默认，下游可软化）
	if hits > 0 {
		report.IsHoneypot = true
	}

	a.resolveOwner(ctx, in, report)

	if in.Baseline != nil && in.Baseline.Reverted() {
		report.AddRisk(20)
	}

	if in.Trace != nil {
		report.TracingEvents = in.Trace.EventStrings()
	}

	report.MechanismStory = buildStory(report, in.Trace)
	report.FriendlyExplanation = buildExplanation(report)

	return report
}

// resolveOwner 确定合约所有者。先在沙盘内调用owner()，
// 返回为空或全零且预言机可用时，改走链上static_call重试。
func (a *Analyzer) resolveOwner(ctx context.Context, in *Input, report *models.SecurityReport) {
	owner, ok := a.ownerViaHarness(in)
	if (!ok || owner == (common.Address{})) && a.oracle != nil {
		if chainOwner, chainOK := a.ownerViaOracle(ctx, in); chainOK {
			owner, ok = chainOwner, true
		}
	}
	if !ok {
		return
	}

	report.SetOwner(owner)
	if owner == (common.Address{}) {
		report.AddFlag("Ownership Renounced (Safe)")
		return
	}
	report.AddFlag(fmt.Sprintf("Contract has an Owner: %s", models.CanonicalAddress(owner)))
	report.AddRisk(10)
}

// ownerViaHarness 在隔离沙盘内执行owner()
func (a *Analyzer) ownerViaHarness(in *Input) (common.Address, bool) {
	h := harness.New(&harness.RunConfig{
		Code:             in.Code,
		PreloadedStorage: in.Storage,
		Sender:           common.HexToAddress("0x00000000000000000000000000000000000000fe"),
		To:               in.Address,
		Data:             ownerSelector,
		ChainID:          in.ChainID,
	})
	outcome, err := h.Run(nil)
	if err != nil || !outcome.Succeeded() {
		return common.Address{}, false
	}
	return parseOwnerReturn(outcome.ReturnValue)
}

// ownerViaOracle 直接对链做static_call
func (a *Analyzer) ownerViaOracle(ctx context.Context, in *Input) (common.Address, bool) {
	ret, err := a.oracle.StaticCall(ctx, in.ChainID, in.Address, ownerSelector)
	if err != nil {
		a.logger.Debugf("链上owner()调用失败: %v", err)
		return common.Address{}, false
	}
	return parseOwnerReturn(ret)
}

// parseOwnerReturn 解释owner()返回值：长度≥20取末尾20字节
func parseOwnerReturn(ret []byte) (common.Address, bool) {
	if len(ret) < common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(ret[len(ret)-common.AddressLength:]), true
}

// proxyFlag 代理类别对应的稳定标签
func proxyFlag(kind models.ProxyKind) string {
	switch kind {
	case models.ProxyEIP1967:
		return "Proxy Contract (EIP-1967)"
	case models.ProxyEIP1822:
		return "Proxy Contract (EIP-1822 UUPS)"
	case models.ProxyEIP897:
		return "Proxy Contract (EIP-897)"
	case models.ProxyEIP1167:
		return "Proxy Contract (EIP-1167 Minimal)"
	default:
		return "Proxy Contract (Custom)"
	}
}

// buildStory 根据标签集合构造机制叙事
func buildStory(report *models.SecurityReport, trace *models.TraceResult) *models.MechanismStory {
	has := func(sub string) bool {
		for _, f := range report.Flags {
			if strings.Contains(f, sub) {
				return true
			}
		}
		return false
	}

	switch {
	case has("drain") || has("removeLiquidity"):
		return &models.MechanismStory{
			Title:    "Hidden Drain Mechanism",
			Story:    "This contract exposes functions that can remove liquidity or drain funds at the operator's discretion.",
			Severity: models.SeverityHigh,
		}
	case has("blacklist"):
		return &models.MechanismStory{
			Title:    "Blacklist Control",
			Story:    "This contract can block arbitrary addresses from trading via an operator-controlled blacklist.",
			Severity: models.SeverityHigh,
		}
	case has("mint"):
		return &models.MechanismStory{
			Title:    "Unlimited Mint",
			Story:    "This contract allows its operator to mint new tokens, diluting existing holders at will.",
			Severity: models.SeverityMedium,
		}
	case has("pause") || has("Trading"):
		return &models.MechanismStory{
			Title:    "Trading Switch",
			Story:    "Trading on this contract can be paused or gated by its operator at any moment.",
			Severity: models.SeverityMedium,
		}
	case report.OwnershipStatus == models.OwnershipCentralized:
		return &models.MechanismStory{
			Title:    "Centralized Ownership",
			Story:    "This contract has a single owner account with elevated privileges.",
			Severity: models.SeverityLow,
		}
	case trace != nil && trace.SenderComparison:
		return &models.MechanismStory{
			Title:    "Sender-Gated Logic",
			Story:    "Execution paths in this contract depend on who is calling it.",
			Severity: models.SeverityLow,
		}
	default:
		return &models.MechanismStory{
			Title:    "No Dangerous Patterns",
			Story:    "Static analysis found no known dangerous functions in the deployed bytecode.",
			Severity: models.SeveritySafe,
		}
	}
}

// buildExplanation 生成面向用户的一句话解释
func buildExplanation(report *models.SecurityReport) string {
	if len(report.Flags) == 0 {
		return "No suspicious patterns were found in this contract."
	}
	if report.RiskScore >= 50 {
		return fmt.Sprintf("This contract triggered %d warning(s) with a risk score of %d/100. Interacting with it may put your funds at risk.", len(report.Flags), report.RiskScore)
	}
	return fmt.Sprintf("This contract triggered %d notice(s) with a risk score of %d/100.", len(report.Flags), report.RiskScore)
}
