package mysql

import (
	"sync"

	"github.com/jmoiron/sqlx"
)

var (
	once   sync.Once
	sqlxDB *sqlx.DB

	slaveDB *sqlx.DB
)

func SQLX() *sqlx.DB {
	once.Do(func() {
		if DB() != nil {
			sqlxDB = sqlx.NewDb(DB(), "mysql")
		}
	})
	return sqlxDB
}

// UseSlave 注入从库句柄（报表/历史查询用，可不配置）
func UseSlave(d *sqlx.DB) { slaveDB = d }

// Slave 返回从库句柄；未配置从库时回退主库
func Slave() *sqlx.DB {
	if slaveDB != nil {
		return slaveDB
	}
	return SQLX()
}
