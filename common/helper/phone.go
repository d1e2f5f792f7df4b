package helper

import (
	"regexp"
	"strings"
)

// 提现收款手机号校验：允许可选 + 前缀，9~15 位数字（提现渠道为移动钱包）
var payoutPhoneRe = regexp.MustCompile(`^\+?\d{9,15}$`)

func ValidatePayoutPhone(phone string) bool {
	return payoutPhoneRe.MatchString(strings.TrimSpace(phone))
}

// 手机号码脱敏：保留前 3 位与后 2 位
func MaskPhone(phone string) string {
	p := strings.TrimSpace(phone)
	if len(p) < 7 {
		return "Xxxx"
	}
	return p[:3] + strings.Repeat("*", len(p)-5) + p[len(p)-2:]
}

func MaskName(name string) string {
	if len(name) == 0 {
		return ""
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return "*"
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}
