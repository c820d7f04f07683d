package proxy

import (
	"bytes"
	"context"

	"sentinel/internal/oracle"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// 标准槽位常量
var (
	// EIP1967ImplementationSlot keccak256("eip1967.proxy.implementation") - 1
	EIP1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	// EIP1967BeaconSlot keccak256("eip1967.proxy.beacon") - 1
	EIP1967BeaconSlot = common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50")
	// EIP1967AdminSlot keccak256("eip1967.proxy.admin") - 1
	EIP1967AdminSlot = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
	// EIP1822LogicSlot keccak256("PROXIABLE")
	EIP1822LogicSlot = common.HexToHash("0xc5f16f0fcc639fa48a6947836d9850f504798523bf8c9a3a87d5876cf622bcf7")
)

// EIP-1167最小代理的固定字节模式
var (
	eip1167Prefix = common.FromHex("0x363d3d373d3d3d363d73")
	eip1167Suffix = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
)

// implementationSelector EIP-897 implementation() 的函数选择器
var implementationSelector = common.FromHex("0x5c60da1b")

// customProxyCodeLimit 自定义代理的字节码长度上限
const customProxyCodeLimit = 200

// Resolution 完整解析结果：代理信息加逐跳取回的实现代码，
// 供沙盘在同一实例中按地址再归位注入。
type Resolution struct {
	Info *models.ProxyInfo
	// ImplCode 解析链上每个实现地址的字节码
	ImplCode map[common.Address][]byte
	// TargetCode 分析最终落点的字节码（非代理时即起点代码）
	TargetCode []byte
}

// Resolver 代理解析器。识别四种标准加一个通用兜底，
// 沿 代理→实现 递归下钻，深度上限5，逐跳查环。
type Resolver struct {
	oracle oracle.Oracle
	logger *logrus.Logger
}

// NewResolver 创建代理解析器
func NewResolver(o oracle.Oracle, logger *logrus.Logger) *Resolver {
	return &Resolver{oracle: o, logger: logger}
}

// Resolve 从起点地址解析代理链。起点代码由调用方传入（通常已预取）。
// 解析失败不致命：返回已走到的部分结果。
func (r *Resolver) Resolve(ctx context.Context, chainID uint64, start common.Address, startCode []byte) (*Resolution, error) {
	res := &Resolution{
		Info:       models.NoProxy(),
		ImplCode:   make(map[common.Address][]byte),
		TargetCode: startCode,
	}

	visited := map[common.Address]bool{start: true}
	current := start
	code := startCode

	for depth := 0; depth < models.MaxProxyResolveDepth; depth++ {
		kind, impl, beacon, admin, err := r.classify(ctx, chainID, current, code)
		if err != nil {
			r.logger.Warnf("代理分类失败: chain=%d addr=%s: %v", chainID, current.Hex(), err)
			return res, err
		}
		if kind == models.ProxyNone {
			break
		}

		// 首跳确定类别与槽位信息
		if !res.Info.IsProxy {
			res.Info.IsProxy = true
			res.Info.Kind = kind
			res.Info.Beacon = beacon
			res.Info.Admin = admin
			res.Info.Chain = append(res.Info.Chain, start)
		}

		if impl == nil {
			// 自定义代理：识别得出但解不出实现地址
			break
		}

		if visited[*impl] {
			r.logger.Warnf("代理解析链出现环路: chain=%d addr=%s", chainID, impl.Hex())
			break
		}
		visited[*impl] = true

		implCode, err := r.oracle.GetCode(ctx, chainID, *impl)
		if err != nil {
			return res, err
		}

		res.Info.Implementation = impl
		res.Info.Chain = append(res.Info.Chain, *impl)
		res.ImplCode[*impl] = implCode
		res.TargetCode = implCode

		current = *impl
		code = implCode
	}

	return res, nil
}

// classify 识别单个地址的代理类别
func (r *Resolver) classify(ctx context.Context, chainID uint64, addr common.Address, code []byte) (models.ProxyKind, *common.Address, *common.Address, *common.Address, error) {
	if len(code) == 0 {
		return models.ProxyNone, nil, nil, nil, nil
	}

	// EIP-1167：固定前后缀，中间20字节即实现地址，无需任何RPC
	if impl := matchMinimalProxy(code); impl != nil {
		return models.ProxyEIP1167, impl, nil, nil, nil
	}

	// EIP-1967：实现槽非零即命中，顺带读beacon与admin槽
	implWord, err := r.oracle.GetStorage(ctx, chainID, addr, EIP1967ImplementationSlot)
	if err != nil {
		return models.ProxyNone, nil, nil, nil, err
	}
	if implWord != (common.Hash{}) {
		impl := wordToAddress(implWord)
		beacon := r.readOptionalSlot(ctx, chainID, addr, EIP1967BeaconSlot)
		admin := r.readOptionalSlot(ctx, chainID, addr, EIP1967AdminSlot)
		return models.ProxyEIP1967, impl, beacon, admin, nil
	}

	// EIP-1822 UUPS
	logicWord, err := r.oracle.GetStorage(ctx, chainID, addr, EIP1822LogicSlot)
	if err != nil {
		return models.ProxyNone, nil, nil, nil, err
	}
	if logicWord != (common.Hash{}) {
		return models.ProxyEIP1822, wordToAddress(logicWord), nil, nil, nil
	}

	// EIP-897：调用 implementation()，返回32字节字则取低20字节
	ret, err := r.oracle.StaticCall(ctx, chainID, addr, implementationSelector)
	if err == nil && len(ret) == 32 {
		if impl := wordToAddress(common.BytesToHash(ret)); impl != nil {
			return models.ProxyEIP897, impl, nil, nil, nil
		}
	}

	// 兜底：小代码且含DELEGATECALL但没有任何标准槽位
	if len(code) < customProxyCodeLimit && bytes.IndexByte(code, 0xF4) >= 0 {
		return models.ProxyCustom, nil, nil, nil, nil
	}

	return models.ProxyNone, nil, nil, nil, nil
}

// readOptionalSlot 读取辅助槽位，失败或为零都返回nil
func (r *Resolver) readOptionalSlot(ctx context.Context, chainID uint64, addr common.Address, slot common.Hash) *common.Address {
	word, err := r.oracle.GetStorage(ctx, chainID, addr, slot)
	if err != nil || word == (common.Hash{}) {
		return nil
	}
	return wordToAddress(word)
}

// matchMinimalProxy 匹配EIP-1167固定模式，返回夹在中间的实现地址
func matchMinimalProxy(code []byte) *common.Address {
	expect := len(eip1167Prefix) + common.AddressLength + len(eip1167Suffix)
	if len(code) != expect {
		return nil
	}
	if !bytes.HasPrefix(code, eip1167Prefix) || !bytes.HasSuffix(code, eip1167Suffix) {
		return nil
	}
	addr := common.BytesToAddress(code[len(eip1167Prefix) : len(eip1167Prefix)+common.AddressLength])
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}

// wordToAddress 把32字节存储字的低20字节解释为地址，零地址视为未设置
func wordToAddress(word common.Hash) *common.Address {
	addr := common.BytesToAddress(word.Bytes())
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}
