package models

// VerdictKind 最终裁决
type VerdictKind string

const (
	VerdictBlock VerdictKind = "BLOCK"
	VerdictWarn  VerdictKind = "WARN"
	VerdictSafe  VerdictKind = "SAFE"
)

// VerdictSource 裁决的判定来源
type VerdictSource string

const (
	SourceRuleBased    VerdictSource = "RuleBased"
	SourceRiskScore    VerdictSource = "RiskScore"
	SourceMLCalibrated VerdictSource = "MLCalibrated"
	SourceDefault      VerdictSource = "Default"
)

// FinalVerdict 裁决封装
type FinalVerdict struct {
	Verdict            VerdictKind   `json:"verdict"`
	Reason             string        `json:"reason"`
	Confidence         int           `json:"confidence"`
	Source             VerdictSource `json:"source"`
	Uncertainty        *float32      `json:"uncertainty,omitempty"`
	ConfidenceInterval *[2]float32   `json:"confidence_interval,omitempty"`
}

// ClassifierPrediction 概率预言机（外部校准模型）的响应
type ClassifierPrediction struct {
	ScamProbability    float32    `json:"scam_probability"`
	Uncertainty        float32    `json:"uncertainty"`
	ConfidenceInterval [2]float32 `json:"confidence_interval"`
	Verdict            string     `json:"verdict"`
	Reason             string     `json:"reason"`
	ModelVersion       string     `json:"model_version"`
	RiskBand           string     `json:"risk_band"`
}
