package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-server/internal/model"
	"wallet-server/internal/state"
)

var bonusCols = []string{"id", "code", "description", "bonus_type", "value", "min_deposit",
	"max_uses", "uses_count", "is_active", "valid_from", "valid_until", "created_at"}

func bonusRow(id int64, code, bonusType, value, minDeposit string, maxUses, usesCount int, active bool, validUntil int64) *sqlmock.Rows {
	now := time.Now().UnixMilli()
	var until any
	if validUntil != 0 {
		until = validUntil
	}
	return sqlmock.NewRows(bonusCols).
		AddRow(id, code, "", bonusType, value, minDeposit, maxUses, usesCount, active, now-3600_000, until, now)
}

func TestRedeemFixedBonus(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-dep", 7, "deposit", state.StateCompleted, "25.50"))
	mock.ExpectQuery("FROM bonuses WHERE code = \\?").
		WillReturnRows(bonusRow(3, "WELCOME10", "fixed", "10.00", "20.00", 100, 5, true, 0))
	mock.ExpectQuery("SELECT COUNT\\(1\\) FROM bonus_usages").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("UPDATE bonuses SET uses_count = uses_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PENDING -> PROCESSING
	mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // 赠金不计累计充值
	// 账本行与充值/提现一致带币种
	mock.ExpectExec("INSERT INTO wallet_ledger").
		WithArgs(int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), "SYP", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO bonus_usages").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PROCESSING -> COMPLETED
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	out, err := NewBonusService().Redeem(context.Background(), RedeemInput{
		AccountID:            7,
		Code:                 "welcome10",
		DepositTransactionID: "tx-dep",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.00", out.BonusAmount)
	assert.Equal(t, "110.00", out.NewBalance)
	assert.NotEmpty(t, out.TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemRequiresCompletedDeposit(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-dep", 7, "deposit", state.StatePending, "25.50"))

	_, err := NewBonusService().Redeem(context.Background(), RedeemInput{
		AccountID: 7, Code: "WELCOME10", DepositTransactionID: "tx-dep",
	})
	require.ErrorIs(t, err, ErrDepositNotCompleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemRejectsForeignOrNonDepositTransaction(t *testing.T) {
	// 别人的交易
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-dep", 99, "deposit", state.StateCompleted, "25.50"))
	_, err := NewBonusService().Redeem(context.Background(), RedeemInput{
		AccountID: 7, Code: "WELCOME10", DepositTransactionID: "tx-dep",
	})
	require.ErrorIs(t, err, ErrTransactionNotFound)

	// 提现单不能作为领取依据
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-wd", 7, "withdrawal", state.StateCompleted, "25.50"))
	_, err = NewBonusService().Redeem(context.Background(), RedeemInput{
		AccountID: 7, Code: "WELCOME10", DepositTransactionID: "tx-wd",
	})
	require.ErrorIs(t, err, ErrTransactionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemAlreadyUsed(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-dep", 7, "deposit", state.StateCompleted, "25.50"))
	mock.ExpectQuery("FROM bonuses WHERE code = \\?").
		WillReturnRows(bonusRow(3, "WELCOME10", "fixed", "10.00", "0", 0, 1, true, 0))
	mock.ExpectQuery("SELECT COUNT\\(1\\) FROM bonus_usages").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := NewBonusService().Redeem(context.Background(), RedeemInput{
		AccountID: 7, Code: "WELCOME10", DepositTransactionID: "tx-dep",
	})
	require.ErrorIs(t, err, ErrBonusAlreadyUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemLastSlotLostToConcurrentClaim(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-dep", 7, "deposit", state.StateCompleted, "25.50"))
	// 查询时还剩最后一个名额
	mock.ExpectQuery("FROM bonuses WHERE code = \\?").
		WillReturnRows(bonusRow(3, "LAST1", "fixed", "10.00", "0", 50, 49, true, 0))
	mock.ExpectQuery("SELECT COUNT\\(1\\) FROM bonus_usages").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	// 受保护 +1 吃了 0 行：名额已被并发领走
	mock.ExpectExec("UPDATE bonuses SET uses_count = uses_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := NewBonusService().Redeem(context.Background(), RedeemInput{
		AccountID: 7, Code: "LAST1", DepositTransactionID: "tx-dep",
	})
	require.ErrorIs(t, err, ErrBonusExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemDuplicateUsageRowMeansAlreadyUsed(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-dep", 7, "deposit", state.StateCompleted, "25.50"))
	mock.ExpectQuery("FROM bonuses WHERE code = \\?").
		WillReturnRows(bonusRow(3, "WELCOME10", "fixed", "10.00", "0", 0, 1, true, 0))
	mock.ExpectQuery("SELECT COUNT\\(1\\) FROM bonus_usages").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("UPDATE bonuses SET uses_count = uses_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 幂等键撞上并发领取留下的赠金单
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err := NewBonusService().Redeem(context.Background(), RedeemInput{
		AccountID: 7, Code: "WELCOME10", DepositTransactionID: "tx-dep",
	})
	require.ErrorIs(t, err, ErrBonusAlreadyUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateBonusRules(t *testing.T) {
	dep := decimal.RequireFromString("25.50")
	now := time.Now().UnixMilli()

	base := func() *model.Bonus {
		return &model.Bonus{
			ID: 1, Code: "B", BonusType: model.BonusTypeFixed,
			Value: decimal.NewFromInt(10), IsActive: true, ValidFrom: now - 1000,
		}
	}

	require.NoError(t, validateBonus(base(), dep))

	b := base()
	b.IsActive = false
	require.ErrorIs(t, validateBonus(b, dep), ErrBonusNotActive)

	b = base()
	b.ValidFrom = now + 3600_000
	require.ErrorIs(t, validateBonus(b, dep), ErrBonusNotStarted)

	b = base()
	b.ValidUntil.Int64, b.ValidUntil.Valid = now-1000, true
	require.ErrorIs(t, validateBonus(b, dep), ErrBonusExpired)

	b = base()
	b.MaxUses, b.UsesCount = 5, 5
	require.ErrorIs(t, validateBonus(b, dep), ErrBonusExhausted)

	b = base()
	b.MinDeposit = decimal.NewFromInt(50)
	var mde *MinDepositError
	require.ErrorAs(t, validateBonus(b, dep), &mde)
	assert.Equal(t, "50", mde.Required.String())
}

func TestCalcAmountPercentageRounds(t *testing.T) {
	b := &model.Bonus{BonusType: model.BonusTypePercentage, Value: decimal.NewFromInt(15)}
	got := b.CalcAmount(decimal.RequireFromString("33.33"))
	assert.Equal(t, "5.00", got.StringFixed(2)) // 33.33 * 15% = 4.9995 -> 5.00

	fixed := &model.Bonus{BonusType: model.BonusTypeFixed, Value: decimal.RequireFromString("7.50")}
	assert.Equal(t, "7.50", fixed.CalcAmount(decimal.NewFromInt(1000)).StringFixed(2))
}

func TestCreateBonusRejectsUnknownType(t *testing.T) {
	_, err := NewBonusService().Create(context.Background(), CreateBonusInput{
		Code: "X", BonusType: "lottery", Value: "5",
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
