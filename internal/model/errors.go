package model

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// IsDuplicateKey 判断是否唯一键冲突（MySQL 1062）
// 幂等键/一人一次等约束都依赖该信号回退到读取已有记录
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// IsNotFound 判断是否未命中
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
