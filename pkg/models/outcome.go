package models

// OutcomeStatus 模拟执行的终态
type OutcomeStatus string

const (
	StatusSuccess  OutcomeStatus = "Success"
	StatusReverted OutcomeStatus = "Reverted"
)

// Outcome 单次模拟执行结果
type Outcome struct {
	Status       OutcomeStatus `json:"status"`
	RevertReason string        `json:"revert_reason,omitempty"`
	GasUsed      uint64        `json:"gas_used"`
	ReturnValue  []byte        `json:"return_value,omitempty"`
}

// NewSuccessOutcome 创建成功结果
func NewSuccessOutcome(gasUsed uint64, ret []byte) *Outcome {
	return &Outcome{Status: StatusSuccess, GasUsed: gasUsed, ReturnValue: ret}
}

// NewRevertedOutcome 创建回滚结果（reason为空时补"unknown"，保持不变式）
func NewRevertedOutcome(gasUsed uint64, reason string, ret []byte) *Outcome {
	if reason == "" {
		reason = "unknown"
	}
	return &Outcome{Status: StatusReverted, RevertReason: reason, GasUsed: gasUsed, ReturnValue: ret}
}

// Succeeded 是否执行成功
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == StatusSuccess
}

// Reverted 是否回滚
func (o *Outcome) Reverted() bool {
	return o != nil && o.Status == StatusReverted
}

// Diverges 与另一结果的状态是否分歧（任一为nil视为未知，不算分歧）
func (o *Outcome) Diverges(other *Outcome) bool {
	if o == nil || other == nil {
		return false
	}
	return o.Status != other.Status
}
