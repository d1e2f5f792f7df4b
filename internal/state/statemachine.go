package state

import "fmt"

// 交易状态
const (
	StatePending         = "PENDING"          // 已创建，尚未开始结算
	StateProcessing      = "PROCESSING"       // 结算进行中
	StateCompleted       = "COMPLETED"        // 外部与本地账本均成功
	StateFailed          = "FAILED"           // 失败，本地账本未动，可重入
	StatePartiallyFailed = "PARTIALLY_FAILED" // 外部调用结果不确定/逻辑失败，需人工对账
	StateCancelled       = "CANCELLED"        // 开始结算前被取消
	StateReversed        = "REVERSED"         // 完成后被冲正
)

// transitions 合法迁移表；不在表内的迁移一律拒绝
var transitions = map[string][]string{
	StatePending:         {StateProcessing, StateCancelled},
	StateProcessing:      {StateCompleted, StateFailed, StatePartiallyFailed},
	StateFailed:          {StatePending}, // 重入：管理端/幂等重提
	StateCompleted:       {StateReversed},
	StatePartiallyFailed: {}, // 自动化终态，人工对账处理
	StateCancelled:       {},
	StateReversed:        {},
}

// InvalidTransitionError 非法状态迁移
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate 校验迁移合法性，非法返回 *InvalidTransitionError
// 调用方必须在任何存储写入前调用
func Validate(from, to string) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsTerminal 判断自动化流程是否到达终态
// PARTIALLY_FAILED 对自动化而言是终态（只能人工处理），但仍出现在人工清扫列表里
func IsTerminal(s string) bool {
	switch s {
	case StateCompleted, StateCancelled, StateReversed, StatePartiallyFailed:
		return true
	}
	return false
}

// IsValidState 判断是否已知状态
func IsValidState(s string) bool {
	_, ok := transitions[s]
	return ok
}
