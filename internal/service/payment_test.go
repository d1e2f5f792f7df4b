package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-server/internal/config"
	"wallet-server/internal/model"
)

func withTestMode(t *testing.T, on bool) {
	t.Helper()
	cfg := config.Get()
	prev := cfg.Payments.TestMode
	cfg.Payments.TestMode = on
	t.Cleanup(func() { cfg.Payments.TestMode = prev })
}

func TestVerifyPaymentTestModeMatch(t *testing.T) {
	withTestMode(t, true)

	mock.ExpectQuery("FROM payments WHERE id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "pending", "25.50", time.Now().Add(time.Hour).UnixMilli()))
	mock.ExpectExec("UPDATE payments SET verification_attempts = verification_attempts \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT verification_attempts FROM payments WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"verification_attempts"}).AddRow(1))
	mock.ExpectExec("UPDATE payments SET state = \\?, provider_reference").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	out, err := NewPaymentService().VerifyPayment(context.Background(), VerifyInput{
		PaymentID:         "pay-1",
		ProviderReference: "0x01",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentVerified, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "tx-1", out.TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPaymentTestModeMismatchCountsAttempt(t *testing.T) {
	withTestMode(t, true)

	mock.ExpectQuery("FROM payments WHERE id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "pending", "25.50", time.Now().Add(time.Hour).UnixMilli()))
	mock.ExpectExec("UPDATE payments SET verification_attempts = verification_attempts \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT verification_attempts FROM payments WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"verification_attempts"}).AddRow(2))

	out, err := NewPaymentService().VerifyPayment(context.Background(), VerifyInput{
		PaymentID:         "pay-1",
		ProviderReference: "WRONG-REF",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, out.State)
	assert.Equal(t, 2, out.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPaymentExpired(t *testing.T) {
	mock.ExpectQuery("FROM payments WHERE id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "pending", "25.50", time.Now().Add(-time.Minute).UnixMilli()))
	mock.ExpectExec("UPDATE payments SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // pending -> expired

	_, err := NewPaymentService().VerifyPayment(context.Background(), VerifyInput{
		PaymentID:         "pay-1",
		ProviderReference: "0x01",
	})
	require.ErrorIs(t, err, ErrPaymentExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPaymentAttemptsExhausted(t *testing.T) {
	mock.ExpectQuery("FROM payments WHERE id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "pending", "25.50", time.Now().Add(time.Hour).UnixMilli()))
	mock.ExpectExec("UPDATE payments SET verification_attempts = verification_attempts \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT verification_attempts FROM payments WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"verification_attempts"}).AddRow(6))
	mock.ExpectExec("UPDATE payments SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1)) // pending -> failed

	out, err := NewPaymentService().VerifyPayment(context.Background(), VerifyInput{
		PaymentID:         "pay-1",
		ProviderReference: "0x01",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, out.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPaymentAlreadyVerified(t *testing.T) {
	mock.ExpectQuery("FROM payments WHERE id = \\?").
		WillReturnRows(paymentRow("pay-1", "tx-1", 7, "verified", "25.50", time.Now().Add(time.Hour).UnixMilli()))

	_, err := NewPaymentService().VerifyPayment(context.Background(), VerifyInput{
		PaymentID:         "pay-1",
		ProviderReference: "0x01",
	})
	require.ErrorIs(t, err, ErrPaymentNotVerified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPayoutPaid(t *testing.T) {
	mock.ExpectQuery("FROM payments WHERE id = \\?").
		WillReturnRows(paymentRow("pay-9", "tx-9", 7, "pending", "40.00", 0))
	mock.ExpectExec("UPDATE payments SET state = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewPaymentService().MarkPayoutPaid(context.Background(), "pay-9"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireStale(t *testing.T) {
	mock.ExpectExec("UPDATE payments SET state = \\? WHERE state = \\? AND expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewPaymentService().ExpireStale(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
