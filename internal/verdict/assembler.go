package verdict

import (
	"fmt"

	"sentinel/pkg/models"
)

// Input 裁决组装的输入
type Input struct {
	Report     *models.SecurityReport
	Battery    *models.BatteryResult
	Prediction *models.ClassifierPrediction
	// Incomplete 扫描在截止时间前未收齐子运行结果
	Incomplete bool
}

// Assemble 确定性决策表，自顶向下求值，首个命中生效。
// 总是产出一个裁决。
func Assemble(in *Input) *models.FinalVerdict {
	reconcileStory(in.Report, in.Battery)

	v := evaluate(in)

	// 不完整扫描降级为Default来源，置信度封顶50
	if in.Incomplete {
		v.Source = models.SourceDefault
		if v.Confidence > 50 {
			v.Confidence = 50
		}
	}
	return v
}

// evaluate 套用决策表
func evaluate(in *Input) *models.FinalVerdict {
	cf := counterfactual(in.Battery)

	// 规则1：规则引擎认定蜜罐或骗局 ⇒ 无条件拦截
	ruleHit := (in.Report != nil && in.Report.IsHoneypot) ||
		(in.Battery != nil && in.Battery.IsScam) ||
		(cf != nil && (cf.IsHoneypot || cf.HasOwnerPrivileges))
	if ruleHit {
		return &models.FinalVerdict{
			Verdict:    models.VerdictBlock,
			Reason:     ruleReason(in),
			Confidence: 100,
			Source:     models.SourceRuleBased,
		}
	}

	// 规则2：风险分达标 ⇒ 告警
	if in.Report != nil && in.Report.RiskScore >= 50 {
		return &models.FinalVerdict{
			Verdict:    models.VerdictWarn,
			Reason:     fmt.Sprintf("Risk score %d/100 — Proceed with caution", in.Report.RiskScore),
			Confidence: 80,
			Source:     models.SourceRiskScore,
		}
	}

	// 规则3-5：校准分类器
	if p := in.Prediction; p != nil {
		uncertainty := p.Uncertainty
		interval := p.ConfidenceInterval
		v := &models.FinalVerdict{
			Source:             models.SourceMLCalibrated,
			Reason:             p.Reason,
			Uncertainty:        &uncertainty,
			ConfidenceInterval: &interval,
		}
		switch {
		case p.ScamProbability > 0.7:
			v.Verdict = models.VerdictBlock
			v.Confidence = int(100 * p.ScamProbability)
		case p.ScamProbability > 0.4:
			v.Verdict = models.VerdictWarn
			v.Confidence = int(100 * p.ScamProbability)
		default:
			v.Verdict = models.VerdictSafe
			v.Confidence = int(100 * (1 - p.ScamProbability))
		}
		if v.Reason == "" {
			v.Reason = fmt.Sprintf("Calibrated scam probability %.2f", p.ScamProbability)
		}
		return v
	}

	// 规则6：兜底
	return &models.FinalVerdict{
		Verdict:    models.VerdictSafe,
		Reason:     "No risk signals detected",
		Confidence: 50,
		Source:     models.SourceDefault,
	}
}

// ruleReason 规则拦截的理由，按固定优先级取第一个非空解释
func ruleReason(in *Input) string {
	if in.Report != nil && in.Report.FriendlyExplanation != "" {
		return in.Report.FriendlyExplanation
	}
	if in.Battery != nil && in.Battery.OverallSummary != "" {
		return in.Battery.OverallSummary
	}
	return "Honeypot or scam patterns detected"
}

// reconcileStory 仅影响解释：战役判定骗局而追踪侧叙事仍是Safe时，
// 换成与具体骗局族匹配的高危叙事。
func reconcileStory(report *models.SecurityReport, battery *models.BatteryResult) {
	if report == nil || battery == nil || !battery.IsScam {
		return
	}
	if report.MechanismStory != nil && report.MechanismStory.Severity != models.SeveritySafe {
		return
	}

	cf := battery.Counterfactual
	switch {
	case cf != nil && (cf.IsHoneypot || cf.HasOwnerPrivileges):
		report.MechanismStory = &models.MechanismStory{
			Title:    "Owner-Only Execution",
			Story:    "Simulation shows the owner can execute this call while ordinary users cannot. This is the defining trait of a honeypot.",
			Severity: models.SeverityHigh,
		}
	case battery.HasCriticalTimeFlag():
		report.MechanismStory = &models.MechanismStory{
			Title:    "Scheduled Time-Lock",
			Story:    "Simulation at future timestamps shows this transaction will stop working. Funds sent now may become unrecoverable.",
			Severity: models.SeverityHigh,
		}
	default:
		report.MechanismStory = &models.MechanismStory{
			Title:    "Hidden Revert Condition",
			Story:    "Simulation uncovered conditions under which this call silently fails for ordinary users.",
			Severity: models.SeverityHigh,
		}
	}
}

func counterfactual(b *models.BatteryResult) *models.CounterfactualResult {
	if b == nil {
		return nil
	}
	return b.Counterfactual
}
