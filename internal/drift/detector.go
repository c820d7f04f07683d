package drift

import (
	"fmt"

	sentinelerrors "sentinel/internal/errors"
	"sentinel/internal/history"
	"sentinel/pkg/models"

	"github.com/sirupsen/logrus"
)

// 漂移幅度的参考阈值（展示给用户，不参与裁决）
const (
	DeltaModerate = 20
	DeltaHigh     = 40
	DeltaCritical = 60
)

// Detector 漂移检测器。对比本次扫描与最近一次历史记录，
// 历史存储不可用时整段漂移分析被省略，扫描照常推进。
type Detector struct {
	repo   *history.Repository
	logger *logrus.Logger
}

// NewDetector 创建漂移检测器
func NewDetector(repo *history.Repository, logger *logrus.Logger) *Detector {
	return &Detector{repo: repo, logger: logger}
}

// Analyze 读取地址的最近一次记录并计算漂移。
// 风险增幅达到阈值时向当前报告追加自动标签（标签进入本次记录与能力哈希）。
// 首次扫描没有先例，返回nil。只读不写：记录的落库由调用方在此之后完成。
func (d *Detector) Analyze(address string, current *models.SecurityReport) (*models.DriftAnalysis, error) {
	prior, err := d.repo.Latest(address)
	if err != nil {
		return nil, sentinelerrors.WrapError(err, sentinelerrors.ErrorTypeHistoryUnavailable, sentinelerrors.SeverityLow, "HISTORY_UNAVAILABLE", "读取扫描历史失败")
	}
	if prior == nil {
		return nil, nil
	}

	analysis := Compare(prior, current.RiskScore, current.Flags)

	if analysis.RiskDelta >= DeltaModerate {
		current.AddFlag(fmt.Sprintf("Risk Increased (+%d since last scan)", analysis.RiskDelta))
		d.logger.Warnf("地址 %s 风险漂移 +%d（%s）", address, analysis.RiskDelta, DeltaSeverity(analysis.RiskDelta))
	}

	return analysis, nil
}

// Compare 纯函数形式的漂移计算：has_drift ⇔ 能力哈希不同
func Compare(prior *models.ScanRecord, currentRisk int, currentFlags []string) *models.DriftAnalysis {
	currentHash := models.CapabilityHash(currentFlags)

	return &models.DriftAnalysis{
		HasDrift:              currentHash != prior.CapabilityHash,
		RiskDelta:             currentRisk - prior.RiskScore,
		NewFlags:              setDifference(currentFlags, prior.Flags),
		RemovedFlags:          setDifference(prior.Flags, currentFlags),
		Prior:                 prior,
		PreviousScanTimestamp: prior.TimestampMs,
	}
}

// DeltaSeverity 风险增幅的参考级别
func DeltaSeverity(delta int) string {
	switch {
	case delta >= DeltaCritical:
		return "critical"
	case delta >= DeltaHigh:
		return "high"
	case delta >= DeltaModerate:
		return "moderate"
	default:
		return "none"
	}
}

// setDifference a中有而b中没有的元素，保持a的顺序
func setDifference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	out := make([]string, 0)
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	return out
}
