package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"sentinel/internal/config"
	sentinelerrors "sentinel/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// Bundle 预取包：字节码加一段连续存储槽前缀，一次逻辑操作取齐
type Bundle struct {
	Code  []byte
	Slots map[common.Hash]common.Hash
}

// Oracle 链预言机端口。返回远端节点头部状态的代码、存储与调用结果。
type Oracle interface {
	GetCode(ctx context.Context, chainID uint64, addr common.Address) ([]byte, error)
	GetStorage(ctx context.Context, chainID uint64, addr common.Address, slot common.Hash) (common.Hash, error)
	StaticCall(ctx context.Context, chainID uint64, addr common.Address, data []byte) ([]byte, error)
	Prefetch(ctx context.Context, chainID uint64, addr common.Address, slotCount int) (*Bundle, error)
}

// breakerState 单端点熔断状态
type breakerState struct {
	consecutiveFails int
	openUntil        time.Time
}

// codeEntry 字节码缓存条目
type codeEntry struct {
	code      []byte
	expiresAt time.Time
}

// Client 链预言机客户端。进程级共享，内部状态并发安全；
// 除熔断表与字节码缓存外不持有跨扫描可变状态。
type Client struct {
	chains  map[uint64]*config.ChainConfig
	logger  *logrus.Logger
	timeout time.Duration

	breakerThreshold int
	breakerCooldown  time.Duration
	codeCacheTTL     time.Duration

	mu        sync.Mutex
	breakers  map[string]*breakerState
	codeCache map[string]codeEntry
	conns     map[string]*rpc.Client
}

// NewClient 创建预言机客户端
func NewClient(chains []*config.ChainConfig, oracleCfg *config.OracleConfig, logger *logrus.Logger) (*Client, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("没有配置任何链端点")
	}

	timeout := parseDurationOr(oracleCfg.EndpointTimeout, 5*time.Second)
	cooldown := parseDurationOr(oracleCfg.BreakerCooldown, 60*time.Second)
	cacheTTL := parseDurationOr(oracleCfg.CodeCacheTTL, time.Hour)

	byID := make(map[uint64]*config.ChainConfig, len(chains))
	for _, c := range chains {
		byID[c.ChainID] = c
	}

	threshold := oracleCfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 3
	}

	return &Client{
		chains:           byID,
		logger:           logger,
		timeout:          timeout,
		breakerThreshold: threshold,
		breakerCooldown:  cooldown,
		codeCacheTTL:     cacheTTL,
		breakers:         make(map[string]*breakerState),
		codeCache:        make(map[string]codeEntry),
		conns:            make(map[string]*rpc.Client),
	}, nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// endpoints 返回链的有序端点列表，熔断中的端点被挪后
func (c *Client) endpoints(chainID uint64) ([]string, error) {
	chain, ok := c.chains[chainID]
	if !ok {
		return nil, sentinelerrors.ErrOracleNotReachable.WithChainID(chainID)
	}

	all := chain.EndpointList()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var healthy, cooling []string
	for _, url := range all {
		if st, exists := c.breakers[url]; exists && now.Before(st.openUntil) {
			cooling = append(cooling, url)
			continue
		}
		healthy = append(healthy, url)
	}
	// 熔断端点旋转到列表尾部：冷却期内仍可作为最后手段
	return append(healthy, cooling...), nil
}

// conn 复用或建立到端点的RPC连接
func (c *Client) conn(ctx context.Context, url string) (*rpc.Client, error) {
	c.mu.Lock()
	if client, ok := c.conns[url]; ok {
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[url]; ok {
		client.Close()
		return existing, nil
	}
	c.conns[url] = client
	return client, nil
}

// recordFailure 记录端点失败，达到阈值则熔断
func (c *Client) recordFailure(url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.breakers[url]
	if !ok {
		st = &breakerState{}
		c.breakers[url] = st
	}
	st.consecutiveFails++
	if st.consecutiveFails >= c.breakerThreshold {
		st.openUntil = time.Now().Add(c.breakerCooldown)
		st.consecutiveFails = 0
		c.logger.Warnf("端点 %s 连续失败达到阈值，熔断 %v: %v", url, c.breakerCooldown, err)
	}
}

// recordSuccess 端点成功，复位熔断计数
func (c *Client) recordSuccess(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.breakers[url]; ok {
		st.consecutiveFails = 0
	}
}

// call 在链的端点上按序执行一次RPC调用，取首个成功者。
// 单个端点超时不会使调用失败，只有列表耗尽才失败。
func (c *Client) call(ctx context.Context, chainID uint64, op string, fn func(ctx context.Context, client *rpc.Client) error) error {
	urls, err := c.endpoints(chainID)
	if err != nil {
		return err
	}

	var lastErr error
	sawTimeout := false

	for _, url := range urls {
		if ctx.Err() != nil {
			return sentinelerrors.WrapError(ctx.Err(), sentinelerrors.ErrorTypeDeadline, sentinelerrors.SeverityMedium, "SCAN_DEADLINE_EXCEEDED", "扫描截止时间已到")
		}

		client, dialErr := c.conn(ctx, url)
		if dialErr != nil {
			c.recordFailure(url, dialErr)
			lastErr = dialErr
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(callCtx, client)
		cancel()

		if err == nil {
			c.recordSuccess(url)
			return nil
		}

		c.recordFailure(url, err)
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			sawTimeout = true
		}
		c.logger.Debugf("端点 %s 执行 %s 失败，切换下一端点: %v", url, op, err)
	}

	if lastErr == nil {
		return sentinelerrors.ErrOracleNotReachable.WithChainID(chainID)
	}
	if sawTimeout {
		return sentinelerrors.WrapError(lastErr, sentinelerrors.ErrorTypeOracleTimeout, sentinelerrors.SeverityMedium, "ORACLE_TIMEOUT", fmt.Sprintf("%s 在全部端点超时", op)).WithChainID(chainID)
	}
	return sentinelerrors.WrapError(lastErr, sentinelerrors.ErrorTypeOracleNotReachable, sentinelerrors.SeverityHigh, "ORACLE_NOT_REACHABLE", fmt.Sprintf("%s 在全部端点失败", op)).WithChainID(chainID)
}

// GetCode 获取合约字节码（按 (chain,address) 缓存最多1小时）
func (c *Client) GetCode(ctx context.Context, chainID uint64, addr common.Address) ([]byte, error) {
	cacheKey := fmt.Sprintf("%d:%s", chainID, addr.Hex())

	c.mu.Lock()
	if entry, ok := c.codeCache[cacheKey]; ok && time.Now().Before(entry.expiresAt) {
		code := entry.code
		c.mu.Unlock()
		return code, nil
	}
	c.mu.Unlock()

	var result hexutil.Bytes
	err := c.call(ctx, chainID, "eth_getCode", func(ctx context.Context, client *rpc.Client) error {
		return client.CallContext(ctx, &result, "eth_getCode", addr, "latest")
	})
	if err != nil {
		// 端点全部耗尽时，过期缓存仍好于没有
		c.mu.Lock()
		entry, ok := c.codeCache[cacheKey]
		c.mu.Unlock()
		if ok {
			c.logger.Warnf("端点耗尽，使用过期的字节码缓存: chain=%d addr=%s", chainID, addr.Hex())
			return entry.code, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.codeCache[cacheKey] = codeEntry{code: result, expiresAt: time.Now().Add(c.codeCacheTTL)}
	c.mu.Unlock()

	return result, nil
}

// GetStorage 读取单个存储槽（跨请求不缓存）
func (c *Client) GetStorage(ctx context.Context, chainID uint64, addr common.Address, slot common.Hash) (common.Hash, error) {
	var result common.Hash
	err := c.call(ctx, chainID, "eth_getStorageAt", func(ctx context.Context, client *rpc.Client) error {
		return client.CallContext(ctx, &result, "eth_getStorageAt", addr, slot, "latest")
	})
	if err != nil {
		return common.Hash{}, err
	}
	return result, nil
}

// StaticCall 对链上合约做一次只读调用
func (c *Client) StaticCall(ctx context.Context, chainID uint64, addr common.Address, data []byte) ([]byte, error) {
	var result hexutil.Bytes
	arg := map[string]interface{}{
		"to":   addr,
		"data": hexutil.Bytes(data),
	}
	err := c.call(ctx, chainID, "eth_call", func(ctx context.Context, client *rpc.Client) error {
		return client.CallContext(ctx, &result, "eth_call", arg, "latest")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Prefetch 预取字节码与槽位0..slotCount-1（存储部分走批量请求）
func (c *Client) Prefetch(ctx context.Context, chainID uint64, addr common.Address, slotCount int) (*Bundle, error) {
	code, err := c.GetCode(ctx, chainID, addr)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Code:  code,
		Slots: make(map[common.Hash]common.Hash, slotCount),
	}
	if slotCount <= 0 || len(code) == 0 {
		return bundle, nil
	}

	batch := make([]rpc.BatchElem, slotCount)
	results := make([]common.Hash, slotCount)
	for i := 0; i < slotCount; i++ {
		batch[i] = rpc.BatchElem{
			Method: "eth_getStorageAt",
			Args:   []interface{}{addr, common.BigToHash(big.NewInt(int64(i))), "latest"},
			Result: &results[i],
		}
	}

	err = c.call(ctx, chainID, "eth_getStorageAt(batch)", func(ctx context.Context, client *rpc.Client) error {
		return client.BatchCallContext(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < slotCount; i++ {
		if batch[i].Error != nil {
			// 单槽失败按零值处理，符合EVM缺省语义
			continue
		}
		if results[i] != (common.Hash{}) {
			bundle.Slots[common.BigToHash(big.NewInt(int64(i)))] = results[i]
		}
	}

	return bundle, nil
}

// Close 关闭所有端点连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, client := range c.conns {
		client.Close()
		delete(c.conns, url)
	}
}
