package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	beegocontext "github.com/beego/beego/v2/server/web/context"

	chelper "wallet-server/common/helper"
)

// IsJSONContentType 判断是否为 JSON 请求
func IsJSONContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.Contains(ct, "json")
}

// 金额格式校验：非负，最多两位小数（预编译正则）
var moneyRe = regexp.MustCompile(`^(?:0|[1-9]\d*)(?:\.\d{1,2})?$`)

// IsMoneyFormat 判断金额格式
func IsMoneyFormat(s string) bool {
	return moneyRe.MatchString(strings.TrimSpace(s))
}

// 默认输入保护参数
const (
	defaultJSONMaxBytes int64         = 1 << 20 // 1MB
	defaultParseTimeout time.Duration = 1 * time.Second
)

type deadlineReader struct {
	r        io.Reader
	deadline time.Time
}

func (dr *deadlineReader) Read(p []byte) (int, error) {
	if time.Now().After(dr.deadline) {
		return 0, fmt.Errorf("read timeout")
	}
	return dr.r.Read(p)
}

// jsonBodyReader 在 JSON 分支下为请求体增加大小限制与解析超时保护
func jsonBodyReader(ctx *beegocontext.Context) io.Reader {
	lr := io.LimitReader(ctx.Request.Body, defaultJSONMaxBytes)
	return &deadlineReader{r: lr, deadline: time.Now().Add(defaultParseTimeout)}
}

// GetTraceID 统一提取 trace_id：优先从中间件注入的数据取，其次从常见请求头降级
func GetTraceID(ctx *beegocontext.Context) string {
	if v := ctx.Input.GetData("trace_id"); v != nil {
		return fmt.Sprint(v)
	}
	if h := strings.TrimSpace(ctx.Input.Header("X-Trace-ID")); h != "" {
		return h
	}
	if h := strings.TrimSpace(ctx.Input.Header("Trace-Id")); h != "" {
		return h
	}
	return ""
}

// parseByContentType 按 Content-Type 选择解析函数，减少重复 if/else 分支
func parseByContentType[T any](ctx *beegocontext.Context,
	jsonParser func(io.Reader) (T, bool, string),
	formParser func(*beegocontext.Context) (T, bool, string),
) (T, bool, string) {
	ct := ctx.Input.Header("Content-Type")
	if IsJSONContentType(ct) {
		return jsonParser(jsonBodyReader(ctx))
	}
	return formParser(ctx)
}

// parseAccountID 解析 account_id 字段（必填正整数）
func parseAccountID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// -------- Deposit helpers --------

// DepositParsed 为解析后的充值入参（与控制器/服务层解耦）
type DepositParsed struct {
	AccountId      int64  `json:"account_id"`
	Amount         string `json:"amount"`
	Provider       string `json:"provider"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ParseDepositFromJSON 解析 JSON 到 DepositParsed。失败返回 false 与错误消息。
func ParseDepositFromJSON(r io.Reader) (DepositParsed, bool, string) {
	var out DepositParsed
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return DepositParsed{}, false, "invalid json body"
	}
	return out, true, ""
}

// ParseDepositFromForm 从表单读取字段并做强校验
func ParseDepositFromForm(ctx *beegocontext.Context) (DepositParsed, bool, string) {
	var out DepositParsed
	id, ok := parseAccountID(ctx.Input.Query("account_id"))
	if !ok {
		return DepositParsed{}, false, "account_id must be a positive integer"
	}
	out.AccountId = id
	out.Amount = strings.TrimSpace(ctx.Input.Query("amount"))
	out.Provider = strings.TrimSpace(ctx.Input.Query("provider"))
	out.IdempotencyKey = strings.TrimSpace(ctx.Input.Query("idempotency_key"))
	return out, true, ""
}

// ValidateDeposit 对通用字段做二次校验（适用于 JSON 与 FORM）
func ValidateDeposit(in *DepositParsed) (bool, string) {
	if in.AccountId <= 0 {
		return false, "account_id must be a positive integer"
	}
	if strings.TrimSpace(in.Amount) == "" || !IsMoneyFormat(in.Amount) {
		return false, "amount must be numeric with up to 2 decimals"
	}
	if in.Provider == "" {
		return false, "provider required"
	}
	// 额外长度保护，避免异常超长输入
	if len(in.Provider) > 32 || len(in.IdempotencyKey) > 64 || len(in.Amount) > 32 {
		return false, "invalid request"
	}
	return true, ""
}

// ParseAndValidateDeposit 按 Content-Type 自动解析并做统一校验
func ParseAndValidateDeposit(ctx *beegocontext.Context) (DepositParsed, bool, string) {
	out, ok, msg := parseByContentType(ctx, ParseDepositFromJSON, ParseDepositFromForm)
	if !ok {
		return DepositParsed{}, false, msg
	}
	if ok, msg := ValidateDeposit(&out); !ok {
		return DepositParsed{}, false, msg
	}
	return out, true, ""
}

// -------- Withdraw helpers --------

type WithdrawParsed struct {
	AccountId      int64  `json:"account_id"`
	Amount         string `json:"amount"`
	Provider       string `json:"provider"`
	PayoutPhone    string `json:"payout_phone"`
	IdempotencyKey string `json:"idempotency_key"`
}

func ParseWithdrawFromJSON(r io.Reader) (WithdrawParsed, bool, string) {
	var out WithdrawParsed
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return WithdrawParsed{}, false, "invalid json body"
	}
	return out, true, ""
}

func ParseWithdrawFromForm(ctx *beegocontext.Context) (WithdrawParsed, bool, string) {
	var out WithdrawParsed
	id, ok := parseAccountID(ctx.Input.Query("account_id"))
	if !ok {
		return WithdrawParsed{}, false, "account_id must be a positive integer"
	}
	out.AccountId = id
	out.Amount = strings.TrimSpace(ctx.Input.Query("amount"))
	out.Provider = strings.TrimSpace(ctx.Input.Query("provider"))
	out.PayoutPhone = strings.TrimSpace(ctx.Input.Query("payout_phone"))
	out.IdempotencyKey = strings.TrimSpace(ctx.Input.Query("idempotency_key"))
	return out, true, ""
}

func ValidateWithdraw(in *WithdrawParsed) (bool, string) {
	if in.AccountId <= 0 {
		return false, "account_id must be a positive integer"
	}
	if strings.TrimSpace(in.Amount) == "" || !IsMoneyFormat(in.Amount) {
		return false, "amount must be numeric with up to 2 decimals"
	}
	if in.Provider == "" {
		return false, "provider required"
	}
	if !chelper.ValidatePayoutPhone(in.PayoutPhone) {
		return false, "payout_phone must be 9-15 digits"
	}
	if len(in.Provider) > 32 || len(in.IdempotencyKey) > 64 || len(in.Amount) > 32 {
		return false, "invalid request"
	}
	return true, ""
}

func ParseAndValidateWithdraw(ctx *beegocontext.Context) (WithdrawParsed, bool, string) {
	out, ok, msg := parseByContentType(ctx, ParseWithdrawFromJSON, ParseWithdrawFromForm)
	if !ok {
		return WithdrawParsed{}, false, msg
	}
	if ok, msg := ValidateWithdraw(&out); !ok {
		return WithdrawParsed{}, false, msg
	}
	return out, true, ""
}

// -------- Payment verify helpers --------

type VerifyParsed struct {
	PaymentId         string `json:"payment_id"`
	ProviderReference string `json:"provider_reference"`
	PhoneNumber       string `json:"phone_number"`
}

func ParseVerifyFromJSON(r io.Reader) (VerifyParsed, bool, string) {
	var out VerifyParsed
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return VerifyParsed{}, false, "invalid json body"
	}
	return out, true, ""
}

func ParseVerifyFromForm(ctx *beegocontext.Context) (VerifyParsed, bool, string) {
	var out VerifyParsed
	out.PaymentId = strings.TrimSpace(ctx.Input.Query("payment_id"))
	out.ProviderReference = strings.TrimSpace(ctx.Input.Query("provider_reference"))
	out.PhoneNumber = strings.TrimSpace(ctx.Input.Query("phone_number"))
	return out, true, ""
}

func ValidateVerify(in *VerifyParsed) (bool, string) {
	if in.PaymentId == "" {
		return false, "payment_id required"
	}
	if in.ProviderReference == "" {
		return false, "provider_reference required"
	}
	if len(in.PaymentId) > 64 || len(in.ProviderReference) > 128 || len(in.PhoneNumber) > 32 {
		return false, "invalid request"
	}
	return true, ""
}

func ParseAndValidateVerify(ctx *beegocontext.Context) (VerifyParsed, bool, string) {
	out, ok, msg := parseByContentType(ctx, ParseVerifyFromJSON, ParseVerifyFromForm)
	if !ok {
		return VerifyParsed{}, false, msg
	}
	if ok, msg := ValidateVerify(&out); !ok {
		return VerifyParsed{}, false, msg
	}
	return out, true, ""
}

// -------- Bonus redeem helpers --------

type BonusRedeemParsed struct {
	AccountId     int64  `json:"account_id"`
	Code          string `json:"code"`
	TransactionId string `json:"transaction_id"` // 已完成的充值交易
}

func ParseBonusRedeemFromJSON(r io.Reader) (BonusRedeemParsed, bool, string) {
	var out BonusRedeemParsed
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return BonusRedeemParsed{}, false, "invalid json body"
	}
	return out, true, ""
}

func ParseBonusRedeemFromForm(ctx *beegocontext.Context) (BonusRedeemParsed, bool, string) {
	var out BonusRedeemParsed
	id, ok := parseAccountID(ctx.Input.Query("account_id"))
	if !ok {
		return BonusRedeemParsed{}, false, "account_id must be a positive integer"
	}
	out.AccountId = id
	out.Code = strings.TrimSpace(ctx.Input.Query("code"))
	out.TransactionId = strings.TrimSpace(ctx.Input.Query("transaction_id"))
	return out, true, ""
}

func ValidateBonusRedeem(in *BonusRedeemParsed) (bool, string) {
	if in.AccountId <= 0 {
		return false, "account_id must be a positive integer"
	}
	if strings.TrimSpace(in.Code) == "" {
		return false, "code required"
	}
	if strings.TrimSpace(in.TransactionId) == "" {
		return false, "transaction_id required"
	}
	if len(in.Code) > 32 || len(in.TransactionId) > 64 {
		return false, "invalid request"
	}
	return true, ""
}

func ParseAndValidateBonusRedeem(ctx *beegocontext.Context) (BonusRedeemParsed, bool, string) {
	out, ok, msg := parseByContentType(ctx, ParseBonusRedeemFromJSON, ParseBonusRedeemFromForm)
	if !ok {
		return BonusRedeemParsed{}, false, msg
	}
	if ok, msg := ValidateBonusRedeem(&out); !ok {
		return BonusRedeemParsed{}, false, msg
	}
	return out, true, ""
}
