package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-server/internal/state"
	"wallet-server/internal/wallet"
)

func TestInitiateDepositCreatesPendingWithPayment(t *testing.T) {
	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET payment_reference").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	out, err := NewDepositService(&fakeWallet{}).InitiateDeposit(context.Background(), DepositInput{
		AccountID: 7,
		Amount:    "25.50",
		Provider:  "telebirr",
	})
	require.NoError(t, err)
	assert.Equal(t, state.StatePending, out.State)
	assert.Equal(t, "25.50", out.Amount)
	assert.NotEmpty(t, out.TransactionID)
	assert.NotEmpty(t, out.PaymentID)
	assert.Greater(t, out.ExpiresAt, time.Now().UnixMilli())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitiateDepositDuplicateKeyReturnsOriginal(t *testing.T) {
	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectQuery("FROM transactions WHERE idempotency_key = \\?").
		WillReturnRows(txRow("tx-orig", 7, "deposit", state.StatePending, "25.50"))
	mock.ExpectQuery("FROM payments WHERE transaction_id = \\?").
		WillReturnRows(paymentRow("pay-orig", "tx-orig", 7, "pending", "25.50", time.Now().Add(time.Hour).UnixMilli()))

	out, err := NewDepositService(&fakeWallet{}).InitiateDeposit(context.Background(), DepositInput{
		AccountID:      7,
		Amount:         "25.50",
		Provider:       "telebirr",
		IdempotencyKey: "dep-k1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-orig", out.TransactionID)
	assert.Equal(t, "pay-orig", out.PaymentID)
	assert.Equal(t, state.StatePending, out.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitiateDepositInvalidAmount(t *testing.T) {
	for _, amt := range []string{"", "0", "-5", "abc"} {
		_, err := NewDepositService(&fakeWallet{}).InitiateDeposit(context.Background(), DepositInput{
			AccountID: 7, Amount: amt, Provider: "telebirr",
		})
		require.ErrorIs(t, err, ErrInvalidAmount, "amount %q", amt)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositRequiresVerifiedPayment(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-1", 7, "deposit", state.StatePending, "25.50"))
	mock.ExpectQuery("FROM payments WHERE transaction_id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "pending", "25.50", time.Now().Add(time.Hour).UnixMilli()))

	_, err := NewDepositService(&fakeWallet{}).ConfirmDeposit(context.Background(), "tx-1", "")
	require.ErrorIs(t, err, ErrPaymentNotVerified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositRejectsNonPending(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-1", 7, "deposit", state.StateCompleted, "25.50"))

	_, err := NewDepositService(&fakeWallet{}).ConfirmDeposit(context.Background(), "tx-1", "")
	var ite *state.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositUnlinkedCompletes(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-1", 7, "deposit", state.StatePending, "25.50"))
	mock.ExpectQuery("FROM payments WHERE transaction_id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "verified", "25.50", time.Now().Add(time.Hour).UnixMilli()))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PENDING -> PROCESSING

	// settle：未绑定外部钱包，直接本地入账
	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\?, total_deposited").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PROCESSING -> COMPLETED
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	fw := &fakeWallet{}
	out, err := NewDepositService(fw).ConfirmDeposit(context.Background(), "tx-1", "")
	require.NoError(t, err)
	assert.Equal(t, state.StateCompleted, out.State)
	assert.Equal(t, "125.50", out.NewBalance)
	assert.Zero(t, fw.creditCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositOutboxFailureSetsFailed(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-1", 7, "deposit", state.StatePending, "25.50"))
	mock.ExpectQuery("FROM payments WHERE transaction_id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "verified", "25.50", time.Now().Add(time.Hour).UnixMilli()))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PENDING -> PROCESSING

	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\? FOR UPDATE").
		WillReturnRows(accountRow(7, "100.00", false))
	mock.ExpectExec("UPDATE accounts SET balance = balance \\+ \\?, total_deposited").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // PROCESSING -> COMPLETED（随事务回滚）
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnError(errors.New("outbox table unavailable"))
	mock.ExpectRollback()
	// 回滚后交易仍是 PROCESSING：兜底置 FAILED，留给运营重入
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := NewDepositService(&fakeWallet{}).ConfirmDeposit(context.Background(), "tx-1", "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositLogicalCreditFailureGoesPartial(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-1", 7, "deposit", state.StatePending, "25.50"))
	mock.ExpectQuery("FROM payments WHERE transaction_id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "verified", "25.50", time.Now().Add(time.Hour).UnixMilli()))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // -> PROCESSING

	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", true))
	// 远端逻辑失败：-> PARTIALLY_FAILED，本地不入账
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	remoteErr := &wallet.APIError{Kind: wallet.KindRemote, Action: "deposit", Message: "agent balance too low"}
	fw := &fakeWallet{creditFn: func(ctx context.Context, player string, amt decimal.Decimal) (wallet.Response, error) {
		return wallet.Response{}, remoteErr
	}}
	_, err := NewDepositService(fw).ConfirmDeposit(context.Background(), "tx-1", "")
	require.Error(t, err)
	assert.True(t, wallet.IsLogicalFailure(err))
	assert.Equal(t, 1, fw.creditCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositTransportFailureGoesFailed(t *testing.T) {
	mock.ExpectQuery("FROM transactions WHERE id = \\?").
		WillReturnRows(txRow("tx-1", 7, "deposit", state.StatePending, "25.50"))
	mock.ExpectQuery("FROM payments WHERE transaction_id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "verified", "25.50", time.Now().Add(time.Hour).UnixMilli()))
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // -> PROCESSING

	mock.ExpectQuery("FROM accounts WHERE id = \\?").
		WillReturnRows(accountRow(7, "100.00", true))
	// 超时重试耗尽：-> FAILED（可重入）
	mock.ExpectExec("UPDATE transactions SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	timeoutErr := &wallet.APIError{Kind: wallet.KindTimeout, Action: "deposit", Message: "deadline exceeded"}
	fw := &fakeWallet{creditFn: func(ctx context.Context, player string, amt decimal.Decimal) (wallet.Response, error) {
		return wallet.Response{}, timeoutErr
	}}
	_, err := NewDepositService(fw).ConfirmDeposit(context.Background(), "tx-1", "")
	require.Error(t, err)
	assert.False(t, wallet.IsLogicalFailure(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
