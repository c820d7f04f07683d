package models

// AnalyzeResponse 分析调用的响应封装（对外JSON契约）
type AnalyzeResponse struct {
	Status           OutcomeStatus     `json:"status"`
	InstructionCount int               `json:"instruction_count"`
	SstoreCount      int               `json:"sstore_count"`
	CallCount        int               `json:"call_count"`
	SecurityReport   *SecurityReport   `json:"security_report"`
	ProxyInfo        *ProxyInfo        `json:"proxy_info"`
	DriftAnalysis    *DriftAnalysis    `json:"drift_analysis,omitempty"`
	AdvancedAnalysis *AdvancedAnalysis `json:"advanced_analysis"`
	MLAnalysis       *MLAnalysis       `json:"ml_analysis,omitempty"`
	FinalVerdict     *FinalVerdict     `json:"final_verdict"`
}

// AdvancedAnalysis 模拟战役部分的响应块
type AdvancedAnalysis struct {
	TimeTravel       *TimeTravelResult     `json:"time_travel"`
	Counterfactual   *CounterfactualResult `json:"counterfactual"`
	OverallRiskScore int                   `json:"overall_risk_score"`
	OverallSummary   string                `json:"overall_summary"`
	IsScam           bool                  `json:"is_scam"`
}

// MLAnalysis 分类器部分的响应块
type MLAnalysis struct {
	ScamProbability    float32    `json:"scam_probability"`
	Uncertainty        float32    `json:"uncertainty"`
	ConfidenceInterval [2]float32 `json:"confidence_interval"`
	Verdict            string     `json:"verdict"`
	Reason             string     `json:"reason"`
	ModelVersion       string     `json:"model_version"`
	RiskBand           string     `json:"risk_band,omitempty"`
}
