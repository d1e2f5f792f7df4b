package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-server/internal/wallet"
)

func TestWithdrawInsufficientBalanceLeavesNoTrace(t *testing.T) {
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WithArgs(int64(7)).
		WillReturnRows(accountRow(7, "10.00", true))

	fw := &fakeWallet{}
	_, err := NewWithdrawService(fw).Withdraw(context.Background(), WithdrawInput{
		AccountID:   7,
		Amount:      "50.00",
		Provider:    "telebirr",
		PayoutPhone: "251911223344",
	})

	var ibe *InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "50.00", ibe.Required.StringFixed(2))
	assert.Equal(t, "10.00", ibe.Available.StringFixed(2))
	// 余额不足：不落交易单，也不触达远端
	assert.Zero(t, fw.debitCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawInvalidPhone(t *testing.T) {
	_, err := NewWithdrawService(&fakeWallet{}).Withdraw(context.Background(), WithdrawInput{
		AccountID: 7, Amount: "50.00", Provider: "telebirr", PayoutPhone: "12ab",
	})
	require.ErrorIs(t, err, ErrInvalidPayoutPhone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawUnlinkedCompletes(t *testing.T) {
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PENDING -> PROCESSING

	// settle
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("UPDATE accounts SET balance = balance - \\?, total_withdrawn").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PROCESSING -> COMPLETED
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	fw := &fakeWallet{}
	out, err := NewWithdrawService(fw).Withdraw(context.Background(), WithdrawInput{
		AccountID:   7,
		Amount:      "40.00",
		Provider:    "telebirr",
		PayoutPhone: "251911223344",
	})
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", out.State)
	assert.Equal(t, "60.00", out.NewBalance)
	assert.NotEmpty(t, out.PaymentID)
	// 未绑定外部钱包：不触达远端
	assert.Zero(t, fw.debitCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawExternalDebitFailureSetsFailed(t *testing.T) {
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", true))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // -> PROCESSING

	// settle：远端出账失败
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", true))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // -> FAILED
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	timeoutErr := &wallet.APIError{Kind: wallet.KindTimeout, Action: "withdrawal", Message: "deadline exceeded"}
	fwErr := &fakeWallet{debitFn: func(ctx context.Context, player string, amt decimal.Decimal) (wallet.Response, error) {
		return wallet.Response{}, timeoutErr
	}}
	_, err := NewWithdrawService(fwErr).Withdraw(context.Background(), WithdrawInput{
		AccountID:   7,
		Amount:      "40.00",
		Provider:    "telebirr",
		PayoutPhone: "251911223344",
	})
	require.Error(t, err)
	var ae *wallet.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, wallet.KindTimeout, ae.Kind)
	// 远端失败：本地余额分文未动（没有 debit/ledger/payments 语句）
	assert.Equal(t, 1, fwErr.debitCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawOutboxFailureSetsFailed(t *testing.T) {
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PENDING -> PROCESSING

	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("UPDATE accounts SET balance = balance - \\?, total_withdrawn").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PROCESSING -> COMPLETED（随事务回滚）
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnError(errors.New("outbox table unavailable"))
	mock.ExpectRollback()
	// 本地出账整体回滚，交易兜底置 FAILED 可重入
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := NewWithdrawService(&fakeWallet{}).Withdraw(context.Background(), WithdrawInput{
		AccountID:   7,
		Amount:      "40.00",
		Provider:    "telebirr",
		PayoutPhone: "251911223344",
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawConcurrentDebitLoses(t *testing.T) {
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "30.00", false))
	// 条件出账 0 行：余额已被并发提现抢走
	mock.ExpectExec("UPDATE accounts SET balance = balance - \\?, total_withdrawn").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // -> FAILED
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := NewWithdrawService(&fakeWallet{}).Withdraw(context.Background(), WithdrawInput{
		AccountID:   7,
		Amount:      "40.00",
		Provider:    "telebirr",
		PayoutPhone: "251911223344",
	})
	var ibe *InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawAccountNotFound(t *testing.T) {
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnError(sql.ErrNoRows)

	_, err := NewWithdrawService(&fakeWallet{}).Withdraw(context.Background(), WithdrawInput{
		AccountID:   999,
		Amount:      "40.00",
		Provider:    "telebirr",
		PayoutPhone: "251911223344",
	})
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
