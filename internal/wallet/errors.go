package wallet

import (
	"errors"
	"fmt"
)

// 失败类别（审计与重试分类用）
const (
	KindTimeout    = "timeout"    // 请求超时
	KindConnection = "connection" // 连接失败
	KindMalformed  = "malformed"  // 响应无法解析
	KindRemote     = "remote"     // 远端显式报错（HTTP 200 但带错误标志）
)

// APIError 外部钱包调用失败
// 传输层失败（timeout/connection）可重试；
// 逻辑失败（remote）与畸形响应（malformed）不可盲目重试，由编排层决定去向。
type APIError struct {
	Kind    string
	Action  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet api %s failed (%s): %s", e.Action, e.Kind, e.Message)
}

// IsRetryable 传输层错误可重试
func IsRetryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind == KindTimeout || ae.Kind == KindConnection
	}
	return false
}

// IsLogicalFailure 远端显式报错（调用已到达远端，结果不确定）
func IsLogicalFailure(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Kind == KindRemote
}
