package drift

import (
	"testing"

	"sentinel/internal/history"
	"sentinel/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector() (*Detector, *history.Repository) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	repo := history.NewRepository(history.NewMemoryStore(), logger, 100, 30)
	return NewDetector(repo, logger), repo
}

func priorRecord(address string, risk int, flags ...string) *models.ScanRecord {
	return &models.ScanRecord{
		TimestampMs:    1_700_000_000_000,
		ChainID:        1,
		Address:        address,
		RiskScore:      risk,
		Flags:          flags,
		CapabilityHash: models.CapabilityHash(flags),
	}
}

func TestAnalyzeFirstScanHasNoDrift(t *testing.T) {
	detector, _ := newDetector()

	report := models.NewSecurityReport()
	analysis, err := detector.Analyze("0xabc", report)
	require.NoError(t, err)
	assert.Nil(t, analysis)
}

func TestAnalyzePostUpgradeDrift(t *testing.T) {
	detector, repo := newDetector()
	addr := "0xabc"
	require.NoError(t, repo.Append(priorRecord(addr, 20)))

	report := models.NewSecurityReport()
	report.AddFlag("Suspicious Function: drain()")
	report.AddRisk(95)

	analysis, err := detector.Analyze(addr, report)
	require.NoError(t, err)
	require.NotNil(t, analysis)

	assert.True(t, analysis.HasDrift)
	assert.Equal(t, 75, analysis.RiskDelta)
	assert.Equal(t, []string{"Suspicious Function: drain()"}, analysis.NewFlags)
	assert.Equal(t, uint64(1_700_000_000_000), analysis.PreviousScanTimestamp)
	// 风险增幅≥20触发自动标签
	assert.True(t, report.HasFlag("Risk Increased (+75 since last scan)"))
}

func TestAnalyzeStableScanNoAutoFlag(t *testing.T) {
	detector, repo := newDetector()
	addr := "0xddd"
	require.NoError(t, repo.Append(priorRecord(addr, 30, "Contract has an Owner: 0x01")))

	report := models.NewSecurityReport()
	report.AddFlag("Contract has an Owner: 0x01")
	report.AddRisk(30)

	analysis, err := detector.Analyze(addr, report)
	require.NoError(t, err)
	require.NotNil(t, analysis)

	assert.False(t, analysis.HasDrift)
	assert.Equal(t, 0, analysis.RiskDelta)
	assert.Empty(t, analysis.NewFlags)
	assert.Empty(t, analysis.RemovedFlags)
	assert.Len(t, report.Flags, 1)
}

func TestCompareDriftArithmetic(t *testing.T) {
	prior := priorRecord("0x01", 60, "A", "B")

	analysis := Compare(prior, 40, []string{"B", "C"})
	assert.Equal(t, -20, analysis.RiskDelta)
	assert.Equal(t, []string{"C"}, analysis.NewFlags)
	assert.Equal(t, []string{"A"}, analysis.RemovedFlags)
	assert.True(t, analysis.HasDrift)
}

func TestCompareHashOrderIndependence(t *testing.T) {
	prior := priorRecord("0x01", 50, "A", "B")

	// 同一集合不同顺序：无漂移
	analysis := Compare(prior, 50, []string{"B", "A"})
	assert.False(t, analysis.HasDrift)
}

func TestDeltaSeverity(t *testing.T) {
	assert.Equal(t, "none", DeltaSeverity(10))
	assert.Equal(t, "moderate", DeltaSeverity(25))
	assert.Equal(t, "high", DeltaSeverity(45))
	assert.Equal(t, "critical", DeltaSeverity(80))
}
