package common

import (
	"context"
	"fmt"
	"reflect"

	g "github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

// 动态条件检索助手：goqu 组 SQL，sqlx 执行。
// 后台/历史类查询（交易检索等）走这里，核心结算路径使用 model 层原生 SQL。
var dialect = g.Dialect("mysql")

// QueryArg 列表查询参数
type QueryArg struct {
	Db     *sqlx.DB                // db connection
	Table  string                  // table
	Fields []interface{}           // query fields
	Ex     []exp.Expression        // where conditions
	Order  []exp.OrderedExpression // order conditions
	Offset uint                    // offset
	Limit  uint                    // limit
}

// EnumFields 按 db tag 枚举结构体的查询列
func EnumFields(obj interface{}) []interface{} {

	rt := reflect.TypeOf(obj)
	if rt.Kind() != reflect.Struct {
		return nil
	}

	var fields []interface{}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if field := f.Tag.Get("db"); field != "" && field != "-" {
			fields = append(fields, field)
		}
	}

	return fields
}

// SelectAllCtx 条件列表查询
func SelectAllCtx(ctx context.Context, data interface{}, args QueryArg) error {

	if args.Db == nil {
		return fmt.Errorf("invalid db")
	}
	if args.Table == "" {
		return fmt.Errorf("invalid table")
	}
	if len(args.Fields) == 0 {
		return fmt.Errorf("invalid fields")
	}

	ds := dialect.Select(args.Fields...).From(args.Table)

	if len(args.Ex) > 0 {
		ds = ds.Where(args.Ex...)
	}
	if len(args.Order) > 0 {
		ds = ds.Order(args.Order...)
	}
	if args.Offset > 0 {
		ds = ds.Offset(args.Offset)
	}
	if args.Limit > 0 {
		ds = ds.Limit(args.Limit)
	}

	query, qargs, err := ds.ToSQL()
	if err != nil {
		return err
	}
	if err := args.Db.SelectContext(ctx, data, query, qargs...); err != nil {
		Printf("select %s err: %s\n", args.Table, err.Error())
		return err
	}
	return nil
}

// CountCtx 条件计数
func CountCtx(ctx context.Context, db *sqlx.DB, table string, ex ...exp.Expression) (int64, error) {

	var count int64
	query, qargs, err := dialect.Select(g.COUNT("*")).From(table).Where(ex...).ToSQL()
	if err != nil {
		return 0, err
	}
	if err := db.GetContext(ctx, &count, query, qargs...); err != nil {
		Printf("count %s err: %s\n", table, err.Error())
		return 0, err
	}
	return count, nil
}
