package constant

// account status
const (
	AccountActive  = 1 // 状态：正常
	AccountBlocked = 2 // 状态：已冻结（禁止充提）
	AccountClosed  = 3 // 状态：已注销
)

// account 业务限制
const (
	AccountNotAllowDeposit  = 1 // 禁止充值
	AccountNotAllowWithdraw = 2 // 禁止提款
)

// transaction kind（transactions.kind）
const (
	TxKindDeposit    = "deposit"
	TxKindWithdrawal = "withdrawal"
	TxKindBonus      = "bonus"
	TxKindRefund     = "refund"
	TxKindAdjustment = "adjustment"
)

// payment provider 标识（settlement 渠道）
const (
	ProviderSyriatelCash = "syriatel_cash"
	ProviderMTNCash      = "mtn_cash"
	ProviderPayeer       = "payeer"
	ProviderManual       = "manual"
)

// 通用货币
const DefaultCurrency = "SYP"
