package harness

import (
	"testing"

	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSender = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testTarget = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func runCfg(code []byte) *RunConfig {
	return &RunConfig{
		Code:    code,
		Sender:  testSender,
		To:      testTarget,
		Value:   new(uint256.Int),
		ChainID: 1,
	}
}

func TestRunStopSucceeds(t *testing.T) {
	// 单条STOP指令：立即正常结束
	h := New(runCfg([]byte{0x00}))
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Empty(t, outcome.RevertReason)
}

func TestRunEmptyCodeSucceeds(t *testing.T) {
	h := New(runCfg(nil))
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
}

func TestRunRevertWithoutReason(t *testing.T) {
	// PUSH1 0 PUSH1 0 REVERT：空数据回滚
	h := New(runCfg([]byte{0x60, 0x00, 0x60, 0x00, 0xfd}))
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	assert.True(t, outcome.Reverted())
	assert.Equal(t, "unknown", outcome.RevertReason)
}

func TestRunReturnsData(t *testing.T) {
	// PUSH1 42 PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN：返回一个字
	code := []byte{0x60, 0x2a, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	h := New(runCfg(code))
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	require.Len(t, outcome.ReturnValue, 32)
	assert.Equal(t, byte(0x2a), outcome.ReturnValue[31])
}

func TestRunConsumedGuard(t *testing.T) {
	h := New(runCfg([]byte{0x00}))
	_, err := h.Run(nil)
	require.NoError(t, err)

	_, err = h.Run(nil)
	assert.Error(t, err)
}

// collectingObserver 记录全部指令步
type collectingObserver struct {
	steps []*models.OpcodeStep
}

func (c *collectingObserver) OnStep(step *models.OpcodeStep) {
	c.steps = append(c.steps, step)
}

func TestRunObserverSeesOpcodes(t *testing.T) {
	// PUSH1 1 PUSH1 2 ADD STOP
	code := []byte{0x60, 0x01, 0x60, 0x02, 0x01, 0x00}
	obs := &collectingObserver{}

	h := New(runCfg(code))
	outcome, err := h.Run(obs)

	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	require.NotEmpty(t, obs.steps)

	var ops []string
	for _, s := range obs.steps {
		ops = append(ops, s.Opcode)
	}
	assert.Contains(t, ops, "ADD")
}

func TestPreloadedStorageVisible(t *testing.T) {
	// PUSH1 0 SLOAD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN：返回槽0的值
	code := []byte{0x60, 0x00, 0x54, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}

	cfg := runCfg(code)
	cfg.PreloadedStorage = map[common.Hash]common.Hash{
		common.BigToHash(common.Big0): common.HexToHash("0xdeadbeef"),
	}

	h := New(cfg)
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	assert.Equal(t, common.HexToHash("0xdeadbeef"), common.BytesToHash(outcome.ReturnValue))
}

func TestOwnerInjectionLandsOnOwnerSlots(t *testing.T) {
	// PUSH1 5 SLOAD ... RETURN：owner注入应覆盖槽5
	code := []byte{0x60, 0x05, 0x54, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}

	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	cfg := runCfg(code)
	cfg.OwnerInjection = &owner

	h := New(cfg)
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	assert.Equal(t, common.BytesToHash(owner.Bytes()), common.BytesToHash(outcome.ReturnValue))
}

func TestTimestampFlowsIntoEvm(t *testing.T) {
	// TIMESTAMP PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	code := []byte{0x42, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}

	cfg := runCfg(code)
	cfg.Block.Timestamp = 1_700_000_000

	h := New(cfg)
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	got := new(uint256.Int).SetBytes(outcome.ReturnValue)
	assert.Equal(t, uint64(1_700_000_000), got.Uint64())
}

func TestMappingSlotDeterministic(t *testing.T) {
	a := MappingSlot(testSender, 4)
	b := MappingSlot(testSender, 4)
	c := MappingSlot(testSender, 5)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBalanceProbeSeedsMappingSlots(t *testing.T) {
	// 读取sender在基槽0映射下的余额槽
	slot := MappingSlot(testSender, 0)

	// PUSH32 slot SLOAD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	code := append([]byte{0x7f}, slot.Bytes()...)
	code = append(code, 0x54, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3)

	amount := uint256.NewInt(12345)
	cfg := runCfg(code)
	cfg.BalanceInjection = map[common.Address]*uint256.Int{testSender: amount}

	h := New(cfg)
	outcome, err := h.Run(nil)

	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	got := new(uint256.Int).SetBytes(outcome.ReturnValue)
	assert.Equal(t, amount.Uint64(), got.Uint64())
}
