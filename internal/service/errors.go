package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// 业务错误集合：入口层据此映射业务码
// 校验类错误在任何落库前同步拒绝
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrDuplicateInFlight   = errors.New("duplicate request in flight")
	ErrPaymentNotVerified  = errors.New("payment not verified")
	ErrPaymentExpired      = errors.New("payment expired")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidPayoutPhone  = errors.New("invalid payout phone number")
	ErrNotLinked           = errors.New("account has no external wallet linkage")
	ErrAlreadyLinked       = errors.New("account already linked to external wallet")
	ErrBonusNotFound       = errors.New("invalid bonus code")
	ErrBonusNotActive      = errors.New("bonus code is not active")
	ErrBonusNotStarted     = errors.New("bonus code is not yet active")
	ErrBonusExpired        = errors.New("bonus code has expired")
	ErrBonusExhausted      = errors.New("bonus code has reached its maximum uses")
	ErrBonusAlreadyUsed    = errors.New("bonus code already used by this account")
	ErrDepositNotCompleted = errors.New("deposit must be completed before applying bonus")
)

// InsufficientBalanceError 余额不足：携带所需/可用金额，调用方可直接透出
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required=%s available=%s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// AccountBlockedError 账户已冻结
type AccountBlockedError struct {
	AccountID int64
	Reason    string
}

func (e *AccountBlockedError) Error() string {
	return fmt.Sprintf("account %d is blocked: %s", e.AccountID, e.Reason)
}

// MinDepositError 未达到活动最低充值门槛
type MinDepositError struct {
	Required decimal.Decimal
}

func (e *MinDepositError) Error() string {
	return fmt.Sprintf("minimum deposit of %s required for this bonus", e.Required.StringFixed(2))
}
