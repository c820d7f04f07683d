package models

// OpcodeStep 指令流中的一步（栈快照只保留栈顶5个字）
type OpcodeStep struct {
	PC     uint32   `json:"pc"`
	Opcode string   `json:"opcode"`
	Depth  uint16   `json:"depth"`
	Stack  []string `json:"stack,omitempty"`
}

// TraceEvent 指令流中挖掘出的语义事件
type TraceEvent string

const (
	EventSenderLoaded           TraceEvent = "sender_loaded"
	EventOriginLoaded           TraceEvent = "origin_loaded"
	EventTimestampLoaded        TraceEvent = "timestamp_loaded"
	EventStorageReadAfterSender TraceEvent = "storage_read_after_sender"
	EventComparisonAfterSender  TraceEvent = "comparison_after_sender"
	EventComparisonAfterTime    TraceEvent = "comparison_after_timestamp"
)

// TraceResult 一次调用帧根的追踪结果，被特征提取器消费后即废弃
type TraceResult struct {
	Events       []TraceEvent    `json:"events"`
	TouchedSlots map[string]bool `json:"touched_slots"`

	SenderLoaded        bool `json:"sender_loaded"`
	OriginLoaded        bool `json:"origin_loaded"`
	TimestampLoaded     bool `json:"timestamp_loaded"`
	SenderComparison    bool `json:"sender_comparison"`
	TimestampComparison bool `json:"timestamp_comparison"`
	StorageAfterSender  bool `json:"storage_after_sender"`

	StepCount         int `json:"step_count"`
	SloadCount        int `json:"sload_count"`
	SstoreCount       int `json:"sstore_count"`
	CallCount         int `json:"call_count"`
	DelegateCallCount int `json:"delegatecall_count"`
	StaticCallCount   int `json:"staticcall_count"`
	CallCodeCount     int `json:"callcode_count"`
	SelfdestructCount int `json:"selfdestruct_count"`
}

// NewTraceResult 创建空的追踪结果
func NewTraceResult() *TraceResult {
	return &TraceResult{
		Events:       make([]TraceEvent, 0, 16),
		TouchedSlots: make(map[string]bool),
	}
}

// TotalCallCount CALL族指令总数
func (t *TraceResult) TotalCallCount() int {
	return t.CallCount + t.DelegateCallCount + t.StaticCallCount + t.CallCodeCount
}

// EventStrings 事件列表的字符串形式（用于响应封装）
func (t *TraceResult) EventStrings() []string {
	out := make([]string, len(t.Events))
	for i, e := range t.Events {
		out[i] = string(e)
	}
	return out
}
