package harness

import (
	"errors"
	"fmt"
	"math/big"

	"sentinel/pkg/models"

	sentinelerrors "sentinel/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// 沙盘固定参数
const (
	// DefaultGasLimit 单次模拟的gas上限
	DefaultGasLimit uint64 = 5_000_000
	// DefaultBlockNumber 模拟所用的区块高度（只需在Cancun之后）
	DefaultBlockNumber uint64 = 20_000_000
	// StackSnapshotDepth 每步保留的栈顶字数
	StackSnapshotDepth = 5
)

// BalanceProbeSlots 余额注入探测的基槽集合。
// ERC-20存储布局不定，逐一写入探测集，至多一个命中真实余额槽，其余为惰性写。
var BalanceProbeSlots = []uint64{0, 1, 2, 3, 4, 5, 6, 51}

// OwnerSlots 所有者注入的常见槽位集合
var OwnerSlots = []uint64{0, 5, 51}

// SenderFunding 发送者的固定注资（100 ETH），避免普通转账因余额不足回滚
var SenderFunding = uint256.MustFromDecimal("100000000000000000000")

// StepObserver 指令步观察者。沙盘在run返回前同步推送每一步。
type StepObserver interface {
	OnStep(step *models.OpcodeStep)
}

// BlockEnv 模拟区块环境。时间戳是显式输入而非"当前时间"。
type BlockEnv struct {
	Timestamp  uint64
	Number     uint64
	BaseFee    *big.Int
	Coinbase   common.Address
	Difficulty *big.Int
	GasLimit   uint64
}

// RunConfig 单次运行的完整配置。相同配置产生字节一致的结果。
type RunConfig struct {
	Code             []byte
	ExtraCode        map[common.Address][]byte // 代理再归位注入的实现代码
	PreloadedStorage map[common.Hash]common.Hash
	BalanceInjection map[common.Address]*uint256.Int
	OwnerInjection   *common.Address

	Sender   common.Address
	To       common.Address
	Data     []byte
	Value    *uint256.Int
	GasLimit uint64
	ChainID  uint64
	Block    BlockEnv
}

// Harness 隔离的EVM执行沙盘。独占自己的状态库，单次调用后废弃。
type Harness struct {
	cfg      *RunConfig
	consumed bool
}

// New 创建沙盘
func New(cfg *RunConfig) *Harness {
	return &Harness{cfg: cfg}
}

// MappingSlot 计算Solidity映射的规范存储槽：keccak256(pad32(key) ∥ pad32(baseSlot))
func MappingSlot(key common.Address, baseSlot uint64) common.Hash {
	var buf [64]byte
	copy(buf[12:32], key.Bytes())
	base := new(big.Int).SetUint64(baseSlot)
	base.FillBytes(buf[32:64])
	return common.BytesToHash(crypto.Keccak256(buf[:]))
}

// chainConfig 构造启用到Cancun的链配置
func chainConfig(chainID uint64) *params.ChainConfig {
	zero := uint64(0)
	return &params.ChainConfig{
		ChainID:                 new(big.Int).SetUint64(chainID),
		HomesteadBlock:          common.Big0,
		EIP150Block:             common.Big0,
		EIP155Block:             common.Big0,
		EIP158Block:             common.Big0,
		ByzantiumBlock:          common.Big0,
		ConstantinopleBlock:     common.Big0,
		PetersburgBlock:         common.Big0,
		IstanbulBlock:           common.Big0,
		MuirGlacierBlock:        common.Big0,
		BerlinBlock:             common.Big0,
		LondonBlock:             common.Big0,
		ArrowGlacierBlock:       common.Big0,
		GrayGlacierBlock:        common.Big0,
		MergeNetsplitBlock:      common.Big0,
		TerminalTotalDifficulty: common.Big0,
		ShanghaiTime:            &zero,
		CancunTime:              &zero,
		BlobScheduleConfig: &params.BlobScheduleConfig{
			Cancun: params.DefaultCancunBlobConfig,
		},
	}
}

// Run 执行一次调用。回滚是正常结果而非错误；
// 沙盘内部panic转换为EvmInvariantBroken，只影响当前扫描。
func (h *Harness) Run(observer StepObserver) (outcome *models.Outcome, err error) {
	if h.consumed {
		return nil, sentinelerrors.ErrEvmInvariantBroken.WithContext("reason", "沙盘被重复使用")
	}
	h.consumed = true

	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = sentinelerrors.WrapError(
				fmt.Errorf("EVM沙盘panic: %v", r),
				sentinelerrors.ErrorTypeEvmInvariantBroken,
				sentinelerrors.SeverityCritical,
				"EVM_INVARIANT_BROKEN",
				"EVM沙盘内部不变式被破坏",
			)
		}
	}()

	cfg := h.cfg
	statedb, newErr := state.New(types.EmptyRootHash, state.NewDatabaseForTesting())
	if newErr != nil {
		return nil, sentinelerrors.WrapError(newErr, sentinelerrors.ErrorTypeEvm, sentinelerrors.SeverityCritical, "EVM_STATE_INIT", "初始化状态库失败")
	}

	h.seedState(statedb)

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	blockNumber := cfg.Block.Number
	if blockNumber == 0 {
		blockNumber = DefaultBlockNumber
	}
	baseFee := cfg.Block.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	difficulty := cfg.Block.Difficulty
	if difficulty == nil {
		difficulty = common.Big0
	}
	blockGasLimit := cfg.Block.GasLimit
	if blockGasLimit == 0 {
		blockGasLimit = 30_000_000
	}

	random := common.Hash{}
	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		Coinbase:    cfg.Block.Coinbase,
		GasLimit:    blockGasLimit,
		BlockNumber: new(big.Int).SetUint64(blockNumber),
		Time:        cfg.Block.Timestamp,
		Difficulty:  difficulty,
		BaseFee:     baseFee,
		BlobBaseFee: big.NewInt(1),
		Random:      &random,
	}

	vmCfg := vm.Config{}
	if observer != nil {
		vmCfg.Tracer = stepHooks(observer)
	}

	evm := vm.NewEVM(blockCtx, statedb, chainConfig(cfg.ChainID), vmCfg)
	evm.SetTxContext(vm.TxContext{Origin: cfg.Sender, GasPrice: common.Big0})

	value := cfg.Value
	if value == nil {
		value = uint256.NewInt(0)
	}

	ret, leftover, callErr := evm.Call(cfg.Sender, cfg.To, cfg.Data, gasLimit, value)
	gasUsed := gasLimit - leftover

	if callErr == nil {
		return models.NewSuccessOutcome(gasUsed, ret), nil
	}

	reason := revertReason(callErr, ret)
	return models.NewRevertedOutcome(gasUsed, reason, ret), nil
}

// seedState 注入代码、预载存储、余额与所有者槽
func (h *Harness) seedState(statedb *state.StateDB) {
	cfg := h.cfg

	statedb.SetCode(cfg.To, cfg.Code)
	for addr, code := range cfg.ExtraCode {
		statedb.SetCode(addr, code)
	}

	for slot, value := range cfg.PreloadedStorage {
		statedb.SetState(cfg.To, slot, value)
	}

	// 余额注入：对探测集内每个基槽写入映射槽
	for holder, amount := range cfg.BalanceInjection {
		for _, baseSlot := range BalanceProbeSlots {
			statedb.SetState(cfg.To, MappingSlot(holder, baseSlot), common.BigToHash(amount.ToBig()))
		}
	}

	// 所有者注入（仅反事实Owner运行）：20字节落在32字节字的低端
	if cfg.OwnerInjection != nil {
		ownerWord := common.BytesToHash(cfg.OwnerInjection.Bytes())
		for _, slot := range OwnerSlots {
			statedb.SetState(cfg.To, common.BigToHash(new(big.Int).SetUint64(slot)), ownerWord)
		}
	}

	// 发送者固定注资
	statedb.SetBalance(cfg.Sender, SenderFunding, tracing.BalanceChangeUnspecified)
}

// stepHooks 把OnOpcode桥接到StepObserver
func stepHooks(observer StepObserver) *tracing.Hooks {
	return &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, opErr error) {
			step := &models.OpcodeStep{
				PC:     uint32(pc),
				Opcode: vm.OpCode(op).String(),
				Depth:  uint16(depth),
			}
			stack := scope.StackData()
			n := len(stack)
			take := n
			if take > StackSnapshotDepth {
				take = StackSnapshotDepth
			}
			if take > 0 {
				step.Stack = make([]string, 0, take)
				// 栈顶在前
				for i := n - 1; i >= n-take; i-- {
					step.Stack = append(step.Stack, stack[i].Hex())
				}
			}
			observer.OnStep(step)
		},
	}
}

// revertReason 从调用错误与返回数据还原回滚原因
func revertReason(callErr error, ret []byte) string {
	if errors.Is(callErr, vm.ErrExecutionReverted) {
		if reason, unpackErr := abi.UnpackRevert(ret); unpackErr == nil && reason != "" {
			return reason
		}
		return "unknown"
	}
	// gas耗尽、非法指令等：直接使用VM错误文本
	if callErr.Error() != "" {
		return callErr.Error()
	}
	return "unknown"
}
