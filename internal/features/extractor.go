package features

import (
	"math"
	"strings"

	"sentinel/pkg/models"
)

// Input 特征提取的输入：C3–C6的全部产出
type Input struct {
	Report  *models.SecurityReport
	Trace   *models.TraceResult
	Battery *models.BatteryResult
	Code    []byte
}

// Extract 确定性投影到15维[0,1]向量。
// 每个字段的定义是与分类器的对外契约。
func Extract(in *Input) *models.FeatureVector {
	v := &models.FeatureVector{}

	flags := allFlags(in)
	cf := counterfactual(in)
	tt := timeTravel(in)

	v.SimSuccessRate = simSuccessRate(cf, tt)
	v.OwnerPrivilegeRatio = ownerPrivilegeRatio(cf)
	v.TimeVarianceScore = timeVarianceScore(tt)
	v.GatedBranchRatio = patternRatio(flags, []string{"blacklist", "whitelist", "owner", "blocked"})
	v.MintTransferRatio = patternRatio(flags, []string{"mint", "drain", "pause", "selfdestruct"})
	v.SuspiciousOpcodeDensity = suspiciousOpcodeDensity(in.Trace)
	v.ProxyDepthNormalized = proxyDepth(in.Report)
	v.SloadDensity = sloadDensity(in.Trace)
	v.BytecodeEntropy = bytecodeEntropy(in.Code)
	v.CounterfactualRisk = counterfactualRisk(cf)
	v.TimeBombRisk = timeBombRisk(tt)
	v.GasAnomalyScore = gasAnomalyScore(cf)
	v.SecurityReportRisk = securityReportRisk(in.Report)
	v.FlagDensity = float32(len(flags)) / 10
	v.RevertRate = revertRate(cf, tt)

	v.Clamp()
	return v
}

func counterfactual(in *Input) *models.CounterfactualResult {
	if in.Battery == nil {
		return nil
	}
	return in.Battery.Counterfactual
}

func timeTravel(in *Input) *models.TimeTravelResult {
	if in.Battery == nil {
		return nil
	}
	return in.Battery.TimeTravel
}

// allFlags 汇总报告与战役的全部标签
func allFlags(in *Input) []string {
	var flags []string
	if in.Report != nil {
		flags = append(flags, in.Report.Flags...)
	}
	if in.Battery != nil {
		flags = append(flags, in.Battery.AllFlags()...)
	}
	return flags
}

// actorOutcomes 有效（已知）的行为者结果
func actorOutcomes(cf *models.CounterfactualResult) []*models.Outcome {
	if cf == nil {
		return nil
	}
	var out []*models.Outcome
	for _, run := range cf.Runs {
		if run.Outcome != nil {
			out = append(out, run.Outcome)
		}
	}
	return out
}

// simSuccessRate 成功行为者占比；无行为者时按基线回滚回落到0.2，否则0.8
func simSuccessRate(cf *models.CounterfactualResult, tt *models.TimeTravelResult) float32 {
	outcomes := actorOutcomes(cf)
	if len(outcomes) == 0 {
		return successFallback(tt, false)
	}
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}
	return float32(succeeded) / float32(len(outcomes))
}

// revertRate 回滚行为者占比，回落规则与simSuccessRate对称
func revertRate(cf *models.CounterfactualResult, tt *models.TimeTravelResult) float32 {
	outcomes := actorOutcomes(cf)
	if len(outcomes) == 0 {
		return successFallback(tt, true)
	}
	reverted := 0
	for _, o := range outcomes {
		if o.Reverted() {
			reverted++
		}
	}
	return float32(reverted) / float32(len(outcomes))
}

// successFallback 无行为者数据时的回落值
func successFallback(tt *models.TimeTravelResult, inverted bool) float32 {
	baselineReverted := tt != nil && tt.CurrentOutcome.Reverted()
	if baselineReverted != inverted {
		return 0.2
	}
	return 0.8
}

func ownerPrivilegeRatio(cf *models.CounterfactualResult) float32 {
	if cf == nil {
		return 0
	}
	var v float32
	if cf.HasOwnerPrivileges {
		v += 0.4
	}
	if cf.IsHoneypot {
		v += 0.3
	}
	diffs := float32(len(cf.PrivilegeDiffs)) * 0.1
	if diffs > 0.3 {
		diffs = 0.3
	}
	return v + diffs
}

func timeVarianceScore(tt *models.TimeTravelResult) float32 {
	if tt == nil {
		return 0
	}
	var v float32
	if tt.IsTimeSensitive {
		v += 0.5
	}
	diverging := float32(tt.DivergingCount()) * 0.1
	if diverging > 0.5 {
		diverging = 0.5
	}
	timeFlags := float32(len(tt.Flags)) * 0.1
	if timeFlags > 0.3 {
		timeFlags = 0.3
	}
	return v + diverging + timeFlags
}

// patternRatio 标签集中命中模式词的比例，每个模式0.25，封顶1
func patternRatio(flags []string, patterns []string) float32 {
	var v float32
	for _, pattern := range patterns {
		for _, flag := range flags {
			if strings.Contains(strings.ToLower(flag), pattern) {
				v += 0.25
				break
			}
		}
	}
	if v > 1 {
		return 1
	}
	return v
}

// suspiciousOpcodeDensity 加权危险指令命中比（SELFDESTRUCT×2）
func suspiciousOpcodeDensity(tr *models.TraceResult) float32 {
	if tr == nil || tr.StepCount == 0 {
		return 0
	}
	weighted := float64(tr.SelfdestructCount*2 + tr.DelegateCallCount + tr.CallCodeCount)
	norm := math.Max(10, float64(tr.StepCount)/10)
	return float32(weighted / norm)
}

func proxyDepth(report *models.SecurityReport) float32 {
	if report == nil || report.ProxyInfo == nil {
		return 0
	}
	return float32(report.ProxyInfo.Depth()) / 3
}

func sloadDensity(tr *models.TraceResult) float32 {
	if tr == nil || tr.StepCount == 0 {
		return 0
	}
	return float32(tr.SloadCount) / float32(tr.StepCount) * 10
}

// bytecodeEntropy 字节直方图的香农熵，按log2(256)=8归一
func bytecodeEntropy(code []byte) float32 {
	if len(code) == 0 {
		return 0
	}
	var hist [256]int
	for _, b := range code {
		hist[b]++
	}
	total := float64(len(code))
	entropy := 0.0
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return float32(entropy / 8)
}

func counterfactualRisk(cf *models.CounterfactualResult) float32 {
	if cf == nil {
		return 0
	}
	var v float32
	if cf.IsHoneypot {
		v += 0.5
	}
	if cf.HasOwnerPrivileges {
		v += 0.3
	}
	if cf.HasWhitelistMechanism {
		v += 0.2
	}
	return v
}

// timeBombRisk 时间风险标签数×0.2，封顶1
func timeBombRisk(tt *models.TimeTravelResult) float32 {
	if tt == nil {
		return 0
	}
	return float32(len(tt.Flags)) * 0.2
}

// gasAnomalyScore 成功行为者间的gas极差比；GAS ANOMALY标签在场时强制≥0.7
func gasAnomalyScore(cf *models.CounterfactualResult) float32 {
	if cf == nil {
		return 0
	}
	var minGas, maxGas uint64
	seen := false
	for _, run := range cf.Runs {
		if run.Outcome == nil || !run.Outcome.Succeeded() {
			continue
		}
		g := run.Outcome.GasUsed
		if !seen {
			minGas, maxGas, seen = g, g, true
			continue
		}
		if g < minGas {
			minGas = g
		}
		if g > maxGas {
			maxGas = g
		}
	}

	var score float32
	if seen && maxGas > 0 {
		score = float32(maxGas-minGas) / float32(maxGas)
	}
	for _, f := range cf.Flags {
		if strings.HasPrefix(f, "GAS ANOMALY") && score < 0.7 {
			score = 0.7
		}
	}
	return score
}

func securityReportRisk(report *models.SecurityReport) float32 {
	if report == nil {
		return 0
	}
	return float32(report.RiskScore) / 100
}
