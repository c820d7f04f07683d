package features

import (
	"testing"

	"sentinel/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmptyInputIsInRange(t *testing.T) {
	v := Extract(&Input{})

	for i, val := range v.Values() {
		assert.GreaterOrEqual(t, val, float32(0), "字段 %s", models.FeatureNames[i])
		assert.LessOrEqual(t, val, float32(1), "字段 %s", models.FeatureNames[i])
	}
}

func TestExtractHoneypotScenario(t *testing.T) {
	report := models.NewSecurityReport()
	report.AddFlag("Suspicious Function: blacklist(address)")
	report.AddFlag("Contract has an Owner: 0xabc")
	report.AddRisk(60)
	report.IsHoneypot = true

	battery := &models.BatteryResult{
		TimeTravel: &models.TimeTravelResult{},
		Counterfactual: &models.CounterfactualResult{
			Runs: []models.ActorRun{
				{Role: models.ActorRandomUser, Outcome: models.NewRevertedOutcome(30_000, "denied", nil)},
				{Role: models.ActorOwner, Outcome: models.NewSuccessOutcome(80_000, nil)},
			},
			IsHoneypot:         true,
			HasOwnerPrivileges: true,
			PrivilegeDiffs:     []models.PrivilegeDiff{{Severity: "Critical"}},
		},
	}

	v := Extract(&Input{Report: report, Battery: battery})

	assert.InDelta(t, 0.5, v.SimSuccessRate, 1e-6)
	assert.InDelta(t, 0.5, v.RevertRate, 1e-6)
	// 0.4(owner_priv) + 0.3(honeypot) + 0.1(一个diff)
	assert.InDelta(t, 0.8, v.OwnerPrivilegeRatio, 1e-6)
	// blacklist + owner 两个模式
	assert.InDelta(t, 0.5, v.GatedBranchRatio, 1e-6)
	assert.InDelta(t, 0.6, v.SecurityReportRisk, 1e-6)
	// 0.5 + 0.3
	assert.InDelta(t, 0.8, v.CounterfactualRisk, 1e-6)
}

func TestExtractNoActorFallback(t *testing.T) {
	// 没有任何行为者结果：基线回滚 ⇒ 成功率0.2，回滚率0.8
	battery := &models.BatteryResult{
		TimeTravel: &models.TimeTravelResult{
			CurrentOutcome: models.NewRevertedOutcome(30_000, "locked", nil),
		},
		Counterfactual: &models.CounterfactualResult{},
	}

	v := Extract(&Input{Battery: battery})
	assert.InDelta(t, 0.2, v.SimSuccessRate, 1e-6)
	assert.InDelta(t, 0.8, v.RevertRate, 1e-6)
}

func TestExtractTimeVariance(t *testing.T) {
	battery := &models.BatteryResult{
		TimeTravel: &models.TimeTravelResult{
			IsTimeSensitive: true,
			Variants: []models.TimeTravelVariant{
				{Diverges: true},
				{Diverges: true},
			},
			Flags: []string{"TIME-BOMB: Transaction fails at +7 Days"},
		},
		Counterfactual: &models.CounterfactualResult{},
	}

	v := Extract(&Input{Battery: battery})
	// 0.5 + 0.2(两个分歧) + 0.1(一个标签)
	assert.InDelta(t, 0.8, v.TimeVarianceScore, 1e-6)
	assert.InDelta(t, 0.2, v.TimeBombRisk, 1e-6)
}

func TestExtractBytecodeEntropy(t *testing.T) {
	// 单一字节：熵为0
	v := Extract(&Input{Code: []byte{0x00, 0x00, 0x00, 0x00}})
	assert.Equal(t, float32(0), v.BytecodeEntropy)

	// 256个互不相同的字节：熵达到最大值1
	code := make([]byte, 256)
	for i := range code {
		code[i] = byte(i)
	}
	v = Extract(&Input{Code: code})
	assert.InDelta(t, 1.0, v.BytecodeEntropy, 1e-6)
}

func TestExtractSloadDensityCapped(t *testing.T) {
	trace := models.NewTraceResult()
	trace.StepCount = 10
	trace.SloadCount = 8

	// 8/10*10 = 8，钳制到1
	v := Extract(&Input{Trace: trace})
	assert.Equal(t, float32(1), v.SloadDensity)
}

func TestExtractGasAnomalyForced(t *testing.T) {
	battery := &models.BatteryResult{
		TimeTravel: &models.TimeTravelResult{},
		Counterfactual: &models.CounterfactualResult{
			Runs: []models.ActorRun{
				{Role: models.ActorRandomUser, Outcome: models.NewSuccessOutcome(50_000, nil)},
				{Role: models.ActorOwner, Outcome: models.NewSuccessOutcome(60_000, nil)},
			},
			Flags: []string{"GAS ANOMALY: Gas usage differs sharply between owner and users"},
		},
	}

	// 实际极差比只有1/6，但GAS ANOMALY标签强制≥0.7
	v := Extract(&Input{Battery: battery})
	assert.GreaterOrEqual(t, v.GasAnomalyScore, float32(0.7))
}

func TestExtractDeterminism(t *testing.T) {
	report := models.NewSecurityReport()
	report.AddFlag("Suspicious Function: mint(address,uint256)")
	report.AddRisk(60)
	in := &Input{Report: report, Code: []byte{0x60, 0x80, 0x60, 0x40}}

	a := Extract(in)
	b := Extract(in)
	assert.Equal(t, a.Values(), b.Values())
}
