package tracer

import (
	"strings"

	"sentinel/pkg/models"
)

// Tracer 语义追踪器。同步消费指令步，用一个极小的瞬态状态机
// 挖掘语义事件。这是有损的静态污点标记，足以标记模式，不是完整数据流分析。
// 纯观察者，不改变执行，每步常量内存。
type Tracer struct {
	result *models.TraceResult

	// senderInPlay CALLER之后的一次性标记，遇到首个非PUSH/DUP指令后清除
	senderInPlay bool
	// lastOp 上一条指令名（跳过当前帧以外无关状态）
	lastOp string
}

// New 创建追踪器
func New() *Tracer {
	return &Tracer{result: models.NewTraceResult()}
}

// Result 返回累积的追踪结果
func (t *Tracer) Result() *models.TraceResult {
	return t.result
}

// transparentOp PUSH/DUP只搬运数据，不消耗"sender在手"标记
func transparentOp(op string) bool {
	return strings.HasPrefix(op, "PUSH") || strings.HasPrefix(op, "DUP")
}

// comparisonOp EQ/LT/GT/SLT/SGT
func comparisonOp(op string) bool {
	switch op {
	case "EQ", "LT", "GT", "SLT", "SGT":
		return true
	}
	return false
}

// OnStep 消费一条指令步
func (t *Tracer) OnStep(step *models.OpcodeStep) {
	r := t.result
	r.StepCount++
	op := step.Opcode

	switch op {
	case "CALLER":
		r.SenderLoaded = true
		r.Events = append(r.Events, models.EventSenderLoaded)
		t.senderInPlay = true
		t.lastOp = op
		return

	case "ORIGIN":
		r.OriginLoaded = true
		r.Events = append(r.Events, models.EventOriginLoaded)
		t.lastOp = op
		return

	case "TIMESTAMP":
		r.TimestampLoaded = true
		r.Events = append(r.Events, models.EventTimestampLoaded)
		t.lastOp = op
		return

	case "SLOAD":
		r.SloadCount++
		// 栈顶即被读槽位
		if len(step.Stack) > 0 {
			r.TouchedSlots[step.Stack[0]] = true
		}
		if t.senderInPlay {
			r.StorageAfterSender = true
			r.Events = append(r.Events, models.EventStorageReadAfterSender)
		}

	case "SSTORE":
		r.SstoreCount++

	case "CALL":
		r.CallCount++
	case "DELEGATECALL":
		r.DelegateCallCount++
	case "STATICCALL":
		r.StaticCallCount++
	case "CALLCODE":
		r.CallCodeCount++
	case "SELFDESTRUCT":
		r.SelfdestructCount++
	}

	if comparisonOp(op) {
		// 紧跟CALLER/ORIGIN的比较：典型的准入门控
		if t.lastOp == "CALLER" || t.lastOp == "ORIGIN" {
			r.SenderComparison = true
			r.Events = append(r.Events, models.EventComparisonAfterSender)
		}
		// 紧跟TIMESTAMP的EQ/LT/GT：时间门控
		if t.lastOp == "TIMESTAMP" && (op == "EQ" || op == "LT" || op == "GT") {
			r.TimestampComparison = true
			r.Events = append(r.Events, models.EventComparisonAfterTime)
		}
	}

	// 非PUSH/DUP指令消耗一次性标记
	if t.senderInPlay && !transparentOp(op) {
		t.senderInPlay = false
	}
	// PUSH/DUP对"紧跟"判断同样透明
	if !transparentOp(op) {
		t.lastOp = op
	}
}
