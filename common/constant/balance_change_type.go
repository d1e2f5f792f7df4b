package constant

// 账变类型常量定义
// 与 wallet_ledger.biz_type 对应，字符串冗余写入 biz_type_str
const (
	BizTypeDeposit    = 1 // 充值入账
	BizTypeWithdrawal = 2 // 提现出账
	BizTypeBonus      = 3 // 活动赠金
	BizTypeRefund     = 4 // 冲正退款（REVERSED 补偿）
	BizTypeAdjustment = 5 // 后台调整
)

// 账变类型描述映射
var BalanceChangeTypeDesc = map[int]string{
	BizTypeDeposit:    "deposit",
	BizTypeWithdrawal: "withdrawal",
	BizTypeBonus:      "bonus",
	BizTypeRefund:     "refund",
	BizTypeAdjustment: "adjustment",
}

// GetBalanceChangeTypeDesc 获取账变类型描述
func GetBalanceChangeTypeDesc(changeType int) string {
	if desc, exists := BalanceChangeTypeDesc[changeType]; exists {
		return desc
	}
	return "未知类型"
}

// BalanceChangeTypeCode 根据字符串反查数值码，未知返回 0
func BalanceChangeTypeCode(s string) int {
	for code, desc := range BalanceChangeTypeDesc {
		if desc == s {
			return code
		}
	}
	return 0
}

// IsValidBalanceChangeType 验证账变类型是否有效
func IsValidBalanceChangeType(changeType int) bool {
	_, exists := BalanceChangeTypeDesc[changeType]
	return exists
}

// 常用账变类型分组
var (
	// 收入类型（余额增加）
	IncomeTypes = []int{BizTypeDeposit, BizTypeBonus, BizTypeRefund}

	// 支出类型（余额减少）
	ExpenseTypes = []int{BizTypeWithdrawal}

	// 奖励类型
	RewardTypes = []int{BizTypeBonus}
)

// IsIncomeType 判断是否为收入类型
func IsIncomeType(changeType int) bool {
	for _, t := range IncomeTypes {
		if t == changeType {
			return true
		}
	}
	return false
}

// IsExpenseType 判断是否为支出类型
func IsExpenseType(changeType int) bool {
	for _, t := range ExpenseTypes {
		if t == changeType {
			return true
		}
	}
	return false
}

// IsRewardType 判断是否为奖励类型
func IsRewardType(changeType int) bool {
	for _, t := range RewardTypes {
		if t == changeType {
			return true
		}
	}
	return false
}
