package models

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TransactionRequest 待分析的候选交易（签名前）
type TransactionRequest struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Data    []byte         `json:"data"`
	Value   *big.Int       `json:"value"`
	ChainID uint64         `json:"chain_id"`
}

// NewTransactionRequest 创建交易请求（value为nil时视为0）
func NewTransactionRequest(from, to common.Address, data []byte, value *big.Int, chainID uint64) *TransactionRequest {
	if value == nil {
		value = new(big.Int)
	}
	return &TransactionRequest{
		From:    from,
		To:      to,
		Data:    data,
		Value:   value,
		ChainID: chainID,
	}
}

// Selector 返回调用数据的4字节选择器（不足4字节返回空串）
func (r *TransactionRequest) Selector() string {
	if len(r.Data) < 4 {
		return ""
	}
	return common.Bytes2Hex(r.Data[:4])
}

// CanonicalAddress 规范化地址表示（小写hex，带0x前缀）
func CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParseAddress 解析20字节hex地址
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("无效的地址: %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseChainID 解析链标识（整数或 eip155:<n> 形式）
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "eip155:"); ok {
		s = rest
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("无效的链标识: %q", s)
	}
	return id, nil
}

// ParseValue 解析金额（十进制或0x前缀十六进制整数字符串）
func ParseValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	base := 10
	if rest, ok := strings.CutPrefix(s, "0x"); ok || strings.HasPrefix(s, "0X") {
		if !ok {
			rest = s[2:]
		}
		s = rest
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("无效的金额: %q", s)
	}
	return v, nil
}

// ParseHexData 解析hex编码的调用数据（允许空串）
func ParseHexData(s string) ([]byte, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "0x"))
	if s == "" {
		return nil, nil
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("调用数据长度必须为偶数: %d", len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("无效的hex调用数据: %w", err)
	}
	return data, nil
}
