package helper

import (
	"github.com/shopspring/decimal"
)

var (
	OneDecimal  = decimal.NewFromInt(1)
	ZeroDecimal = decimal.Zero
)

// TrimDecimal 金额统一四舍五入到 2 位小数后输出字符串
// 入库与对外展示都走这里，保证同一笔金额在各处表现一致
func TrimDecimal(val decimal.Decimal) string {
	return val.StringFixed(2)
}

// MoneyRound 金额规整：四舍五入到 2 位小数（DECIMAL(20,2) 落库前调用）
func MoneyRound(val decimal.Decimal) decimal.Decimal {
	return val.Round(2)
}

// ParseMoney 解析金额字符串并规整到 2 位小数；负数或非法输入返回 ok=false
func ParseMoney(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if d.IsNegative() {
		return decimal.Zero, false
	}
	return d.Round(2), true
}
