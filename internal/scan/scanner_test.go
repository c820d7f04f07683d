package scan

import (
	"context"
	"math/big"
	"testing"

	"sentinel/internal/config"
	"sentinel/internal/history"
	"sentinel/internal/oracle"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testFrom = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testTo   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeOracle 测试用预言机：固定的字节码与存储，不触网
type fakeOracle struct {
	code       []byte
	slots      map[common.Hash]common.Hash
	staticResp []byte
}

func (f *fakeOracle) GetCode(_ context.Context, _ uint64, _ common.Address) ([]byte, error) {
	return f.code, nil
}

func (f *fakeOracle) GetStorage(_ context.Context, _ uint64, _ common.Address, slot common.Hash) (common.Hash, error) {
	return f.slots[slot], nil
}

func (f *fakeOracle) StaticCall(_ context.Context, _ uint64, _ common.Address, _ []byte) ([]byte, error) {
	return f.staticResp, nil
}

func (f *fakeOracle) Prefetch(_ context.Context, _ uint64, _ common.Address, _ int) (*oracle.Bundle, error) {
	slots := f.slots
	if slots == nil {
		slots = make(map[common.Hash]common.Hash)
	}
	return &oracle.Bundle{Code: f.code, Slots: slots}, nil
}

func newTestScanner(t *testing.T, o oracle.Oracle) *Scanner {
	t.Helper()
	logger := logrus.New()
	repo := history.NewRepository(history.NewMemoryStore(), logger, 100, 30)
	return NewScanner(config.GetDefaultConfig(), o, repo, nil, logger)
}

func newTestRequest() *models.TransactionRequest {
	return models.NewTransactionRequest(testFrom, testTo, common.FromHex("0xa9059cbb"), big.NewInt(0), 1)
}

func TestScanRejectsInvalidRequest(t *testing.T) {
	s := newTestScanner(t, &fakeOracle{})

	req := newTestRequest()
	req.To = common.Address{}
	_, err := s.Scan(context.Background(), req)

	assert.Error(t, err)
}

func TestScanNonContractTarget(t *testing.T) {
	// 目标无字节码：纯转账，固定安全响应
	s := newTestScanner(t, &fakeOracle{})

	resp, err := s.Scan(context.Background(), newTestRequest())

	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, resp.Status)
	assert.Equal(t, models.VerdictSafe, resp.FinalVerdict.Verdict)
	assert.Equal(t, models.SourceDefault, resp.FinalVerdict.Source)
	assert.Empty(t, resp.SecurityReport.Flags)
}

func TestScanCleanContract(t *testing.T) {
	// 单条STOP指令：所有子运行成功，裁决SAFE
	s := newTestScanner(t, &fakeOracle{code: []byte{0x00}})

	resp, err := s.Scan(context.Background(), newTestRequest())

	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, resp.Status)
	assert.Equal(t, models.VerdictSafe, resp.FinalVerdict.Verdict)
	require.NotNil(t, resp.AdvancedAnalysis)
	assert.False(t, resp.AdvancedAnalysis.IsScam)
	assert.False(t, resp.SecurityReport.IsHoneypot)
}

func TestScanRevertingContractRaisesRisk(t *testing.T) {
	// 无条件REVERT：基线回滚加分，时间旅行各偏移均回滚但不分歧
	s := newTestScanner(t, &fakeOracle{code: []byte{0x60, 0x00, 0x60, 0x00, 0xfd}})

	resp, err := s.Scan(context.Background(), newTestRequest())

	require.NoError(t, err)
	assert.Equal(t, models.StatusReverted, resp.Status)
	assert.GreaterOrEqual(t, resp.SecurityReport.RiskScore, 20)
}

func TestScanRecordsHistory(t *testing.T) {
	logger := logrus.New()
	repo := history.NewRepository(history.NewMemoryStore(), logger, 100, 30)
	s := NewScanner(config.GetDefaultConfig(), &fakeOracle{code: []byte{0x00}}, repo, nil, logger)

	_, err := s.Scan(context.Background(), newTestRequest())
	require.NoError(t, err)

	record, err := repo.Latest(models.CanonicalAddress(testTo))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, uint64(1), record.ChainID)
	assert.NotEmpty(t, record.CapabilityHash)
}

func TestScanSecondRunSeesNoDrift(t *testing.T) {
	logger := logrus.New()
	repo := history.NewRepository(history.NewMemoryStore(), logger, 100, 30)
	s := NewScanner(config.GetDefaultConfig(), &fakeOracle{code: []byte{0x00}}, repo, nil, logger)

	_, err := s.Scan(context.Background(), newTestRequest())
	require.NoError(t, err)

	resp, err := s.Scan(context.Background(), newTestRequest())
	require.NoError(t, err)

	require.NotNil(t, resp.DriftAnalysis)
	assert.False(t, resp.DriftAnalysis.HasDrift)
	assert.Equal(t, 0, resp.DriftAnalysis.RiskDelta)
}

func TestWhitelistCandidatesFromStorage(t *testing.T) {
	candidate := common.HexToAddress("0x4444444444444444444444444444444444444444")
	slots := map[common.Hash]common.Hash{
		common.BigToHash(big.NewInt(7)): common.BytesToHash(candidate.Bytes()),
		// 非地址形状的槽值被忽略
		common.BigToHash(big.NewInt(8)): common.HexToHash("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"),
	}

	s := newTestScanner(t, &fakeOracle{})
	st := &state{
		req:    newTestRequest(),
		bundle: &oracle.Bundle{Slots: slots},
		report: models.NewSecurityReport(),
	}

	got := s.whitelistCandidates(st)
	require.Len(t, got, 1)
	assert.Equal(t, candidate, got[0])
}

func TestWhitelistCandidatesExcludesParties(t *testing.T) {
	slots := map[common.Hash]common.Hash{
		common.BigToHash(big.NewInt(1)): common.BytesToHash(testFrom.Bytes()),
		common.BigToHash(big.NewInt(2)): common.BytesToHash(testTo.Bytes()),
	}

	s := newTestScanner(t, &fakeOracle{})
	st := &state{
		req:    newTestRequest(),
		bundle: &oracle.Bundle{Slots: slots},
		report: models.NewSecurityReport(),
	}

	assert.Empty(t, s.whitelistCandidates(st))
}

func TestWordAsAddress(t *testing.T) {
	addr := common.HexToAddress("0x4444444444444444444444444444444444444444")

	got := wordAsAddress(common.BytesToHash(addr.Bytes()))
	require.NotNil(t, got)
	assert.Equal(t, addr, *got)

	assert.Nil(t, wordAsAddress(common.Hash{}))
	// 高12字节非零：不是地址形状
	assert.Nil(t, wordAsAddress(common.HexToHash("0x0100000000000000000000004444444444444444444444444444444444444444")))
}
