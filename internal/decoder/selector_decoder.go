package decoder

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"sentinel/internal/config"

	"github.com/sirupsen/logrus"
)

// SelectorDecoder 调用数据选择器解码器。
// 把请求calldata的前4字节翻译成人类可读的函数签名，用于响应与日志。
type SelectorDecoder struct {
	logger *logrus.Logger
	config *config.DecoderConfig
	client *http.Client

	mu    sync.Mutex
	cache map[string]string
}

// FourByteResponse 4byte.directory API响应
type FourByteResponse struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  []signature `json:"results"`
}

type signature struct {
	ID             int    `json:"id"`
	CreatedAt      string `json:"created_at"`
	TextSignature  string `json:"text_signature"`
	HexSignature   string `json:"hex_signature"`
	BytesSignature string `json:"bytes_signature"`
}

// knownSelectors 本地签名表：先查本地，API只兜底。
// 覆盖常见ERC-20操作与危险函数目录里的选择器。
var knownSelectors = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x06fdde03": "name()",
	"0x95d89b41": "symbol()",
	"0x313ce567": "decimals()",
	"0x18160ddd": "totalSupply()",
	"0x40c10f19": "mint(address,uint256)",
	"0x42966c68": "burn(uint256)",
	"0x8da5cb5b": "owner()",
	"0xf2fde38b": "transferOwnership(address)",
	"0x715018a6": "renounceOwnership()",
	"0xf9f92be4": "blacklist(address)",
	"0x8456cb59": "pause()",
	"0x8a8c523c": "enableTrading()",
	"0xc9044b7d": "openTrading()",
	"0x69fe0e2d": "setFee(uint256)",
	"0xd040220a": "drain()",
	"0x474cf53d": "withdrawETH()",
	"0x5c60da1b": "implementation()",
}

// NewSelectorDecoder 创建选择器解码器
func NewSelectorDecoder(logger *logrus.Logger, decoderConfig *config.DecoderConfig) *SelectorDecoder {
	if decoderConfig == nil {
		decoderConfig = &config.DecoderConfig{
			FourByteAPIURL: "https://www.4byte.directory/api/v1/signatures/",
			APITimeout:     "5s",
			EnableCache:    true,
			CacheSize:      10000,
			EnableAPI:      false,
		}
	}

	timeout, err := time.ParseDuration(decoderConfig.APITimeout)
	if err != nil {
		timeout = 5 * time.Second
		logger.Warnf("解析API超时时间失败，使用默认值5s: %v", err)
	}
	if decoderConfig.CacheSize <= 0 {
		decoderConfig.CacheSize = 10000
	}

	return &SelectorDecoder{
		logger: logger,
		config: decoderConfig,
		cache:  make(map[string]string),
		client: &http.Client{Timeout: timeout},
	}
}

// Describe 解码calldata的函数选择器。
// 返回(选择器, 函数签名, 是否为合约调用)。
func (d *SelectorDecoder) Describe(data []byte) (string, string, bool) {
	if len(data) < 4 {
		return "", "", false
	}

	selector := fmt.Sprintf("0x%x", data[:4])
	return selector, d.methodName(selector), true
}

// methodName 选择器到函数签名：本地表 → 缓存 → 4byte.directory
func (d *SelectorDecoder) methodName(selector string) string {
	if name, ok := knownSelectors[selector]; ok {
		return name
	}

	if d.config.EnableCache {
		d.mu.Lock()
		name, ok := d.cache[selector]
		d.mu.Unlock()
		if ok {
			return name
		}
	}

	if d.config.EnableAPI {
		if name := d.fetchFromFourByteDirectory(selector); name != "" {
			d.cacheName(selector, name)
			return name
		}
	}

	return "unknown"
}

// cacheName 写入缓存，超限时清理
func (d *SelectorDecoder) cacheName(selector, name string) {
	if !d.config.EnableCache {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cache) >= d.config.CacheSize {
		d.evictCacheLocked()
	}
	d.cache[selector] = name
}

// fetchFromFourByteDirectory 从4byte.directory API获取方法签名
func (d *SelectorDecoder) fetchFromFourByteDirectory(selector string) string {
	url := fmt.Sprintf("%s?hex_signature=%s", d.config.FourByteAPIURL, selector)

	resp, err := d.client.Get(url)
	if err != nil {
		d.logger.Debugf("4byte.directory API调用失败: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Debugf("4byte.directory API返回错误状态: %d", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		d.logger.Debugf("读取4byte.directory响应失败: %v", err)
		return ""
	}

	var response FourByteResponse
	if err := json.Unmarshal(body, &response); err != nil {
		d.logger.Debugf("解析4byte.directory响应失败: %v", err)
		return ""
	}

	if len(response.Results) > 0 {
		return response.Results[0].TextSignature
	}
	return ""
}

// evictCacheLocked 清理一半缓存（调用方持锁）
func (d *SelectorDecoder) evictCacheLocked() {
	targetSize := d.config.CacheSize / 2
	if targetSize <= 0 {
		targetSize = 1000
	}

	count := 0
	for key := range d.cache {
		if count >= len(d.cache)-targetSize {
			break
		}
		delete(d.cache, key)
		count++
	}
	d.logger.Debugf("缓存清理完成，剩余 %d 项", len(d.cache))
}

// ClearCache 清理缓存
func (d *SelectorDecoder) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]string)
}

// GetCacheSize 获取缓存大小
func (d *SelectorDecoder) GetCacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}
