package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"wallet-server/common/helper"
	"wallet-server/common/logger"
	"wallet-server/internal/breaker"
	"wallet-server/internal/metrics"
	"wallet-server/internal/retry"
)

// BreakerName 外部钱包依赖的熔断器名称（全进程共享一个实例）
const BreakerName = "wallet"

// API 外部钱包平台操作集合。编排层依赖该接口，测试中以假实现替换。
type API interface {
	CheckStatus(ctx context.Context) error
	CreatePlayer(ctx context.Context, playerName, password string) (Response, error)
	Credit(ctx context.Context, playerName string, amount decimal.Decimal) (Response, error)
	Debit(ctx context.Context, playerName string, amount decimal.Decimal) (Response, error)
	PlayerBalance(ctx context.Context, playerName string) (decimal.Decimal, error)
	AgentBalance(ctx context.Context) (decimal.Decimal, error)
	ChangePass(ctx context.Context, playerName, newPassword string) error
}

// Response 远端返回的 JSON 负载
type Response struct {
	Data map[string]any
}

// Str 取字符串字段（缺失返回空串）
func (r Response) Str(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

// Options 客户端配置
type Options struct {
	BaseURL  string
	Username string // HTTP Basic Auth
	Password string
	Timeout  time.Duration // 默认 8s
}

// Client 外部钱包平台客户端：单端点 + action 参数，表单提交。
// 所有调用经由重试执行器与 "wallet" 熔断器；每次调用记录审计日志与指标。
type Client struct {
	opt        Options
	authHeader string
	exec       *retry.Executor
	br         *breaker.Breaker
}

var _ API = (*Client)(nil)

// NewClient 创建客户端；reg 提供按名共享的熔断器
func NewClient(opt Options, exec *retry.Executor, reg *breaker.Registry) *Client {
	if opt.Timeout <= 0 {
		opt.Timeout = helper.WalletAPITimeout
	}
	cred := base64.StdEncoding.EncodeToString([]byte(opt.Username + ":" + opt.Password))
	return &Client{
		opt:        opt,
		authHeader: "Basic " + cred,
		exec:       exec,
		br:         reg.Get(BreakerName),
	}
}

// doOnce 发起一次请求并完成响应分类（不含重试）
func (c *Client) doOnce(ctx context.Context, action, method string, params url.Values) (Response, error) {
	form := url.Values{"action": {action}}
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	uri := c.opt.BaseURL
	var body []byte
	headers := map[string]string{
		"Authorization": c.authHeader,
	}
	if method == "GET" {
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		uri += sep + form.Encode()
	} else {
		body = []byte(form.Encode())
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	}

	start := time.Now()
	respBytes, status, err := helper.HttpDoTimeoutForWalletAPI(body, method, uri, headers, c.opt.Timeout)
	durMs := time.Since(start).Milliseconds()

	finish := func(outcome string) {
		metrics.ObserveWalletAPICall(action, outcome, start)
		metrics.SetBreakerState(BreakerName, c.br.State())
		logger.AuditAPICall(ctx, action, outcome, durMs)
	}

	if err != nil {
		kind := KindConnection
		if isTimeout(err) {
			kind = KindTimeout
		}
		finish(kind)
		return Response{}, &APIError{Kind: kind, Action: action, Message: err.Error()}
	}

	if status >= 400 {
		// 远端以 HTTP 错误码响应：调用已到达远端，按逻辑失败处理
		finish(KindRemote)
		return Response{}, &APIError{Kind: KindRemote, Action: action,
			Message: "http " + strconv.Itoa(status) + ": " + truncate(string(respBytes), 200)}
	}

	var data map[string]any
	if len(respBytes) > 0 {
		if jerr := json.Unmarshal(respBytes, &data); jerr != nil {
			finish(KindMalformed)
			return Response{}, &APIError{Kind: KindMalformed, Action: action,
				Message: "unparseable response: " + truncate(string(respBytes), 200)}
		}
	}

	// HTTP 层成功但负载带错误标志：逻辑失败，不能当成功处理
	if hasError(data) {
		finish(KindRemote)
		return Response{}, &APIError{Kind: KindRemote, Action: action, Message: errorMessage(data)}
	}

	finish("success")
	return Response{Data: data}, nil
}

// do 经重试执行器 + 熔断器执行
func (c *Client) do(ctx context.Context, action, method string, params url.Values) (Response, error) {
	var resp Response
	err := c.exec.Do(ctx, c.br, IsRetryable, func(ctx context.Context) error {
		var oerr error
		resp, oerr = c.doOnce(ctx, action, method, params)
		return oerr
	})
	if err != nil {
		var be *breaker.ErrOpen
		if errors.As(err, &be) {
			metrics.ObserveWalletAPICall(action, "breaker_open", time.Now())
			logger.WarnCtx(ctx, "wallet api rejected by circuit breaker", zap.String("action", action))
		}
		return Response{}, err
	}
	return resp, nil
}

// hasError 识别远端的应用层错误标志
func hasError(data map[string]any) bool {
	if data == nil {
		return false
	}
	if v, ok := data["hasError"].(string); ok && v == "yes" {
		return true
	}
	if v, ok := data["error"]; ok && v != nil && v != "" {
		return true
	}
	if v, ok := data["status"].(string); ok && v == "error" {
		return true
	}
	return false
}

func errorMessage(data map[string]any) string {
	for _, k := range []string{"msg", "error", "message"} {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return "unknown remote error"
}

// ============ API 操作 ============

// CheckStatus 探测远端可用性
func (c *Client) CheckStatus(ctx context.Context) error {
	_, err := c.do(ctx, "checkStatus", "GET", nil)
	return err
}

// CreatePlayer 在钱包平台注册玩家账号
func (c *Client) CreatePlayer(ctx context.Context, playerName, password string) (Response, error) {
	return c.do(ctx, "createPlayer", "POST", url.Values{
		"playerName": {playerName},
		"password":   {password},
	})
}

// Credit 向玩家外部账户入金（资金操作：上层必须保证幂等提交）
func (c *Client) Credit(ctx context.Context, playerName string, amount decimal.Decimal) (Response, error) {
	return c.do(ctx, "deposit", "POST", url.Values{
		"playerName": {playerName},
		"amount":     {helper.TrimDecimal(amount)},
	})
}

// Debit 从玩家外部账户出金
func (c *Client) Debit(ctx context.Context, playerName string, amount decimal.Decimal) (Response, error) {
	return c.do(ctx, "withdrawal", "POST", url.Values{
		"playerName": {playerName},
		"amount":     {helper.TrimDecimal(amount)},
	})
}

// PlayerBalance 查询玩家外部余额
func (c *Client) PlayerBalance(ctx context.Context, playerName string) (decimal.Decimal, error) {
	resp, err := c.do(ctx, "get_player_balance", "GET", url.Values{"playerName": {playerName}})
	if err != nil {
		return decimal.Zero, err
	}
	return parseBalance(resp, "get_player_balance")
}

// AgentBalance 查询代理账户余额（充值头寸监控）
func (c *Client) AgentBalance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.do(ctx, "checkAgentBalance", "GET", nil)
	if err != nil {
		return decimal.Zero, err
	}
	return parseBalance(resp, "checkAgentBalance")
}

// ChangePass 修改玩家外部账号密码
func (c *Client) ChangePass(ctx context.Context, playerName, newPassword string) error {
	_, err := c.do(ctx, "changePass", "POST", url.Values{
		"playerName": {playerName},
		"password":   {newPassword},
	})
	return err
}

// parseBalance 从响应提取余额字段（balance 可能是数字或字符串）
func parseBalance(resp Response, action string) (decimal.Decimal, error) {
	v, ok := resp.Data["balance"]
	if !ok {
		return decimal.Zero, &APIError{Kind: KindMalformed, Action: action, Message: "missing balance field"}
	}
	switch b := v.(type) {
	case float64:
		return decimal.NewFromFloat(b).Round(2), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(b))
		if err != nil {
			return decimal.Zero, &APIError{Kind: KindMalformed, Action: action, Message: "bad balance: " + b}
		}
		return d.Round(2), nil
	default:
		return decimal.Zero, &APIError{Kind: KindMalformed, Action: action, Message: "bad balance type"}
	}
}

// ---- 小工具 ----

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
