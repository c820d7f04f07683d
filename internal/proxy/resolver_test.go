package proxy

import (
	"context"
	"testing"

	"sentinel/internal/oracle"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOracle 测试用的内存预言机
type fakeOracle struct {
	codes   map[common.Address][]byte
	storage map[common.Address]map[common.Hash]common.Hash
	calls   map[common.Address][]byte
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		codes:   make(map[common.Address][]byte),
		storage: make(map[common.Address]map[common.Hash]common.Hash),
		calls:   make(map[common.Address][]byte),
	}
}

func (f *fakeOracle) setSlot(addr common.Address, slot, value common.Hash) {
	if f.storage[addr] == nil {
		f.storage[addr] = make(map[common.Hash]common.Hash)
	}
	f.storage[addr][slot] = value
}

func (f *fakeOracle) GetCode(_ context.Context, _ uint64, addr common.Address) ([]byte, error) {
	return f.codes[addr], nil
}

func (f *fakeOracle) GetStorage(_ context.Context, _ uint64, addr common.Address, slot common.Hash) (common.Hash, error) {
	return f.storage[addr][slot], nil
}

func (f *fakeOracle) StaticCall(_ context.Context, _ uint64, addr common.Address, _ []byte) ([]byte, error) {
	return f.calls[addr], nil
}

func (f *fakeOracle) Prefetch(_ context.Context, _ uint64, addr common.Address, _ int) (*oracle.Bundle, error) {
	return &oracle.Bundle{Code: f.codes[addr], Slots: map[common.Hash]common.Hash{}}, nil
}

// minimalProxyCode 构造EIP-1167字节码
func minimalProxyCode(impl common.Address) []byte {
	code := append([]byte{}, eip1167Prefix...)
	code = append(code, impl.Bytes()...)
	return append(code, eip1167Suffix...)
}

func newResolver(f *fakeOracle) *Resolver {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewResolver(f, logger)
}

func TestResolveNonProxy(t *testing.T) {
	f := newFakeOracle()
	addr := common.HexToAddress("0x01")
	code := []byte{0x60, 0x80, 0x60, 0x40}

	res, err := newResolver(f).Resolve(context.Background(), 1, addr, code)
	require.NoError(t, err)
	assert.False(t, res.Info.IsProxy)
	assert.Equal(t, models.ProxyNone, res.Info.Kind)
	assert.Equal(t, code, res.TargetCode)
}

func TestResolveMinimalProxy(t *testing.T) {
	f := newFakeOracle()
	proxy := common.HexToAddress("0x0a")
	impl := common.HexToAddress("0x0b")
	implCode := []byte{0x60, 0x01, 0x60, 0x02}
	f.codes[impl] = implCode

	res, err := newResolver(f).Resolve(context.Background(), 1, proxy, minimalProxyCode(impl))
	require.NoError(t, err)
	assert.True(t, res.Info.IsProxy)
	assert.Equal(t, models.ProxyEIP1167, res.Info.Kind)
	require.NotNil(t, res.Info.Implementation)
	assert.Equal(t, impl, *res.Info.Implementation)
	assert.Equal(t, implCode, res.TargetCode)
	assert.Equal(t, 1, res.Info.Depth())
}

func TestResolveEIP1967WithAdmin(t *testing.T) {
	f := newFakeOracle()
	proxy := common.HexToAddress("0x10")
	impl := common.HexToAddress("0x20")
	admin := common.HexToAddress("0x30")
	implCode := []byte{0x60, 0x00}
	f.codes[impl] = implCode
	f.setSlot(proxy, EIP1967ImplementationSlot, common.BytesToHash(impl.Bytes()))
	f.setSlot(proxy, EIP1967AdminSlot, common.BytesToHash(admin.Bytes()))

	res, err := newResolver(f).Resolve(context.Background(), 1, proxy, []byte{0x36, 0x3d})
	require.NoError(t, err)
	assert.Equal(t, models.ProxyEIP1967, res.Info.Kind)
	require.NotNil(t, res.Info.Admin)
	assert.Equal(t, admin, *res.Info.Admin)
	assert.Equal(t, implCode, res.TargetCode)
	assert.Equal(t, []common.Address{proxy, impl}, res.Info.Chain)
}

func TestResolveCycleTerminates(t *testing.T) {
	f := newFakeOracle()
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")
	// A→B→A 的环
	f.codes[a] = minimalProxyCode(b)
	f.codes[b] = minimalProxyCode(a)

	res, err := newResolver(f).Resolve(context.Background(), 1, a, f.codes[a])
	require.NoError(t, err)
	assert.True(t, res.Info.IsProxy)
	assert.LessOrEqual(t, res.Info.Depth(), models.MaxProxyResolveDepth)
	// 环在B处被截断
	assert.Equal(t, []common.Address{a, b}, res.Info.Chain)
}

func TestResolveEIP897(t *testing.T) {
	f := newFakeOracle()
	proxy := common.HexToAddress("0x40")
	impl := common.HexToAddress("0x50")
	f.calls[proxy] = common.BytesToHash(impl.Bytes()).Bytes()
	f.codes[impl] = []byte{0x60, 0x05}

	res, err := newResolver(f).Resolve(context.Background(), 1, proxy, []byte{0x60, 0x80, 0x60, 0x40, 0xf4})
	require.NoError(t, err)
	assert.Equal(t, models.ProxyEIP897, res.Info.Kind)
	require.NotNil(t, res.Info.Implementation)
	assert.Equal(t, impl, *res.Info.Implementation)
}

func TestResolveCustomProxy(t *testing.T) {
	f := newFakeOracle()
	proxy := common.HexToAddress("0x60")
	// 小代码、含DELEGATECALL、无任何标准槽位
	code := []byte{0x36, 0x3d, 0xf4, 0x00}

	res, err := newResolver(f).Resolve(context.Background(), 1, proxy, code)
	require.NoError(t, err)
	assert.True(t, res.Info.IsProxy)
	assert.Equal(t, models.ProxyCustom, res.Info.Kind)
	assert.Nil(t, res.Info.Implementation)
	assert.Equal(t, code, res.TargetCode)
}
