package analyzer

import (
	"context"
	"testing"

	"sentinel/internal/oracle"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// fakeOracle 测试用预言机，只实现owner()调用
type fakeOracle struct {
	callRet []byte
}

func (f *fakeOracle) GetCode(_ context.Context, _ uint64, _ common.Address) ([]byte, error) {
	return nil, nil
}

func (f *fakeOracle) GetStorage(_ context.Context, _ uint64, _ common.Address, _ common.Hash) (common.Hash, error) {
	return common.Hash{}, nil
}

func (f *fakeOracle) StaticCall(_ context.Context, _ uint64, _ common.Address, _ []byte) ([]byte, error) {
	return f.callRet, nil
}

func (f *fakeOracle) Prefetch(_ context.Context, _ uint64, _ common.Address, _ int) (*oracle.Bundle, error) {
	return &oracle.Bundle{}, nil
}

func newAnalyzer(f *fakeOracle) *Analyzer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(f, logger)
}

// codeWithSelectors 构造内嵌选择器的假字节码
func codeWithSelectors(selectors ...string) []byte {
	code := []byte{0x60, 0x80}
	for _, s := range selectors {
		code = append(code, common.FromHex(s)...)
	}
	return code
}

func TestAnalyzeDrainSelector(t *testing.T) {
	a := newAnalyzer(&fakeOracle{})

	report := a.Analyze(context.Background(), &Input{
		ChainID: 1,
		Address: common.HexToAddress("0x01"),
		Code:    codeWithSelectors("d040220a"),
	})

	assert.True(t, report.HasFlag("Suspicious Function: drain()"))
	assert.Equal(t, 100, report.RiskScore)
	assert.True(t, report.IsHoneypot)
	assert.Equal(t, models.SeverityHigh, report.MechanismStory.Severity)
}

func TestAnalyzeRiskSaturation(t *testing.T) {
	a := newAnalyzer(&fakeOracle{})

	// 多个高权重选择器叠加，分数饱和在100
	report := a.Analyze(context.Background(), &Input{
		Code: codeWithSelectors("d040220a", "78265506", "40c10f19", "f9f92be4"),
	})

	assert.Equal(t, 100, report.RiskScore)
	assert.Len(t, report.Flags, 4)
}

func TestAnalyzeCleanCode(t *testing.T) {
	a := newAnalyzer(&fakeOracle{})

	report := a.Analyze(context.Background(), &Input{
		Code: []byte{0x60, 0x80, 0x60, 0x40, 0x52},
	})

	assert.Equal(t, 0, report.RiskScore)
	assert.False(t, report.IsHoneypot)
	assert.Equal(t, models.SeveritySafe, report.MechanismStory.Severity)
	assert.Equal(t, models.OwnershipUnknown, report.OwnershipStatus)
}

func TestAnalyzeOwnerViaOracleFallback(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	a := newAnalyzer(&fakeOracle{callRet: common.BytesToHash(owner.Bytes()).Bytes()})

	report := a.Analyze(context.Background(), &Input{
		ChainID: 1,
		Code:    []byte{0xfe}, // 沙盘内必然回滚，走链上重试
	})

	assert.Equal(t, models.OwnershipCentralized, report.OwnershipStatus)
	// 标签中的地址与信封其余部分一致，使用小写规范形式
	assert.True(t, report.HasFlag("Contract has an Owner: "+models.CanonicalAddress(owner)))
	assert.Equal(t, 10, report.RiskScore)
}

func TestAnalyzeRenouncedOwnership(t *testing.T) {
	// owner()返回全零字：所有权已放弃
	a := newAnalyzer(&fakeOracle{callRet: make([]byte, 32)})

	report := a.Analyze(context.Background(), &Input{
		ChainID: 1,
		Code:    []byte{0xfe},
	})

	assert.Equal(t, models.OwnershipRenounced, report.OwnershipStatus)
	assert.True(t, report.HasFlag("Ownership Renounced (Safe)"))
	assert.Equal(t, 0, report.RiskScore)
}

func TestAnalyzeRevertedBaselineAddsRisk(t *testing.T) {
	a := newAnalyzer(&fakeOracle{})

	report := a.Analyze(context.Background(), &Input{
		Code:     []byte{0x60, 0x80},
		Baseline: models.NewRevertedOutcome(21000, "insufficient balance", nil),
	})

	assert.Equal(t, 20, report.RiskScore)
}

func TestAnalyzeScansProxyBytecode(t *testing.T) {
	a := newAnalyzer(&fakeOracle{})

	// 实现字节码干净，危险选择器藏在代理层
	report := a.Analyze(context.Background(), &Input{
		Code:      []byte{0x60, 0x80, 0x60, 0x40, 0x52},
		ProxyCode: codeWithSelectors("f9f92be4"),
	})

	assert.True(t, report.HasFlag("Suspicious Function: blacklist(address)"))
	assert.Equal(t, 50, report.RiskScore)
	assert.True(t, report.IsHoneypot)
}

func TestAnalyzeProxyFlag(t *testing.T) {
	a := newAnalyzer(&fakeOracle{})
	impl := common.HexToAddress("0x02")

	report := a.Analyze(context.Background(), &Input{
		Code: codeWithSelectors("d040220a"),
		Proxy: &models.ProxyInfo{
			IsProxy:        true,
			Kind:           models.ProxyEIP1967,
			Implementation: &impl,
		},
	})

	assert.True(t, report.HasFlag("Proxy Contract (EIP-1967)"))
	assert.Equal(t, 100, report.RiskScore)
}
