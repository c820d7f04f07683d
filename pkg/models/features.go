package models

import "math"

// FeatureVector 投影到[0,1]的15维连续特征向量。
// 字段名、顺序与语义是与分类器服务的对外契约，禁止改动。
type FeatureVector struct {
	SimSuccessRate          float32 `json:"sim_success_rate"`
	OwnerPrivilegeRatio     float32 `json:"owner_privilege_ratio"`
	TimeVarianceScore       float32 `json:"time_variance_score"`
	GatedBranchRatio        float32 `json:"gated_branch_ratio"`
	MintTransferRatio       float32 `json:"mint_transfer_ratio"`
	SuspiciousOpcodeDensity float32 `json:"suspicious_opcode_density"`
	ProxyDepthNormalized    float32 `json:"proxy_depth_normalized"`
	SloadDensity            float32 `json:"sload_density"`
	BytecodeEntropy         float32 `json:"bytecode_entropy"`
	CounterfactualRisk      float32 `json:"counterfactual_risk"`
	TimeBombRisk            float32 `json:"time_bomb_risk"`
	GasAnomalyScore         float32 `json:"gas_anomaly_score"`
	SecurityReportRisk      float32 `json:"security_report_risk"`
	FlagDensity             float32 `json:"flag_density"`
	RevertRate              float32 `json:"revert_rate"`
}

// FeatureNames 特征的规范顺序
var FeatureNames = []string{
	"sim_success_rate",
	"owner_privilege_ratio",
	"time_variance_score",
	"gated_branch_ratio",
	"mint_transfer_ratio",
	"suspicious_opcode_density",
	"proxy_depth_normalized",
	"sload_density",
	"bytecode_entropy",
	"counterfactual_risk",
	"time_bomb_risk",
	"gas_anomaly_score",
	"security_report_risk",
	"flag_density",
	"revert_rate",
}

// Values 按规范顺序返回特征值
func (f *FeatureVector) Values() [15]float32 {
	return [15]float32{
		f.SimSuccessRate,
		f.OwnerPrivilegeRatio,
		f.TimeVarianceScore,
		f.GatedBranchRatio,
		f.MintTransferRatio,
		f.SuspiciousOpcodeDensity,
		f.ProxyDepthNormalized,
		f.SloadDensity,
		f.BytecodeEntropy,
		f.CounterfactualRisk,
		f.TimeBombRisk,
		f.GasAnomalyScore,
		f.SecurityReportRisk,
		f.FlagDensity,
		f.RevertRate,
	}
}

// Clamp 把所有字段钳制到[0,1]并把NaN/Inf归零
func (f *FeatureVector) Clamp() {
	vals := []*float32{
		&f.SimSuccessRate, &f.OwnerPrivilegeRatio, &f.TimeVarianceScore,
		&f.GatedBranchRatio, &f.MintTransferRatio, &f.SuspiciousOpcodeDensity,
		&f.ProxyDepthNormalized, &f.SloadDensity, &f.BytecodeEntropy,
		&f.CounterfactualRisk, &f.TimeBombRisk, &f.GasAnomalyScore,
		&f.SecurityReportRisk, &f.FlagDensity, &f.RevertRate,
	}
	for _, v := range vals {
		*v = ClampUnit(*v)
	}
}

// ClampUnit 钳制单个值到[0,1]，NaN/Inf归零
func ClampUnit(v float32) float32 {
	f64 := float64(v)
	if math.IsNaN(f64) || math.IsInf(f64, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
