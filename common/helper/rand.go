package helper

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"
)

func GenerateRandNum(min, max int) int {
	rand.Seed(uint64(time.Now().UnixNano()))

	return min + rand.Intn(max-min)
}

// GenerateBillNo 生成账单号：前缀 + 时间戳 + 6位随机数
// 例如 WD20260824153005123456（提现打款备注用）
func GenerateBillNo(prefix string) string {
	return fmt.Sprintf("%s%s%06d", prefix, time.Now().Format("20060102150405"), GenerateRandNum(0, 1000000))
}
