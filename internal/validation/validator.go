package validation

import (
	"fmt"
	"regexp"
	"strings"

	"sentinel/internal/config"
	"sentinel/internal/errors"
	"sentinel/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// MaxCalldataBytes 单次请求允许的最大calldata字节数
const MaxCalldataBytes = 128 * 1024

// Validator 请求验证器。无效请求在进入模拟管线前被拒绝。
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下警告也视为失败
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(req *models.TransactionRequest) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Errors   []*errors.SentinelError `json:"errors,omitempty"`
	Warnings []string                `json:"warnings,omitempty"`
}

// NewValidator 创建请求验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.registerDefaultRules()

	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	v.AddRule(&chainRule{})
	v.AddRule(&calldataRule{})
	v.AddRule(&valueRule{})
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateRequest 验证交易请求
func (v *Validator) ValidateRequest(req *models.TransactionRequest) *ValidationResult {
	if req == nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []*errors.SentinelError{errors.ErrValidationFailed.WithContext("reason", "请求为空")},
		}
	}

	result := &ValidationResult{
		Valid:    true,
		Errors:   make([]*errors.SentinelError, 0),
		Warnings: make([]string, 0),
	}

	// 目标地址必须是合约候选：零地址无法承载字节码
	if req.To == (common.Address{}) {
		result.Valid = false
		result.Errors = append(result.Errors,
			errors.NewSentinelError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"INVALID_TO_ADDRESS", "目标地址不能为零地址").WithAddress(req.To.Hex()))
	}

	if req.From == (common.Address{}) {
		result.Warnings = append(result.Warnings, "发送方为零地址，模拟将以零地址身份执行")
	}

	if req.From == req.To {
		result.Warnings = append(result.Warnings, "发送方与目标地址相同")
	}

	for _, rule := range v.rules {
		if err := rule.Validate(req); err != nil {
			result.Valid = false
			if sentinelErr, ok := err.(*errors.SentinelError); ok {
				result.Errors = append(result.Errors, sentinelErr.WithAddress(req.To.Hex()))
			} else {
				result.Errors = append(result.Errors, errors.WrapError(err,
					errors.ErrorTypeValidation, errors.SeverityMedium,
					"REQUEST_RULE_VALIDATION_FAILED", "请求规则验证失败").WithAddress(req.To.Hex()))
			}
		}
	}

	if v.strictMode && len(result.Warnings) > 0 {
		result.Valid = false
	}

	return result
}

// chainRule 链标识必须在识别列表中
type chainRule struct{}

func (r *chainRule) Name() string        { return "chain" }
func (r *chainRule) Description() string { return "链标识必须是已识别的链" }

func (r *chainRule) Validate(req *models.TransactionRequest) error {
	for _, id := range config.RecognizedChainIDs {
		if req.ChainID == id {
			return nil
		}
	}
	return errors.NewSentinelError(errors.ErrorTypeValidation, errors.SeverityHigh,
		"UNRECOGNIZED_CHAIN", fmt.Sprintf("未识别的链标识: %d", req.ChainID))
}

// calldataRule calldata长度与形状检查
type calldataRule struct{}

func (r *calldataRule) Name() string        { return "calldata" }
func (r *calldataRule) Description() string { return "calldata大小与ABI形状" }

func (r *calldataRule) Validate(req *models.TransactionRequest) error {
	if len(req.Data) > MaxCalldataBytes {
		return errors.NewSentinelError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"CALLDATA_TOO_LARGE", fmt.Sprintf("calldata超过%d字节上限: %d", MaxCalldataBytes, len(req.Data)))
	}
	// 1-3字节既不是纯转账也不是合法的函数调用
	if n := len(req.Data); n > 0 && n < 4 {
		return errors.NewSentinelError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"CALLDATA_TRUNCATED", fmt.Sprintf("calldata不足4字节选择器: %d", n))
	}
	return nil
}

// valueRule 金额不能为负
type valueRule struct{}

func (r *valueRule) Name() string        { return "value" }
func (r *valueRule) Description() string { return "金额符号" }

func (r *valueRule) Validate(req *models.TransactionRequest) error {
	if req.Value != nil && req.Value.Sign() < 0 {
		return errors.NewSentinelError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"NEGATIVE_VALUE", "交易金额不能为负数")
	}
	return nil
}

var addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// IsValidAddressString 验证hex地址字符串格式
func IsValidAddressString(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return addressRegex.MatchString(addr)
}
