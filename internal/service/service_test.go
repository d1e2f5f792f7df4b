package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"wallet-server/common/logger"
	"wallet-server/internal/config"
	infmysql "wallet-server/internal/infra/mysql"
	"wallet-server/internal/wallet"
)

// 共享一个 sqlmock 连接（infmysql.SQLX 进程内只初始化一次），
// 各用例按顺序铺设自己的期望，结尾用 ExpectationsWereMet 收口。
var mock sqlmock.Sqlmock

func TestMain(m *testing.M) {
	logger.InitLogger()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	config.Set(cfg)
	config.SetCurrent(cfg)

	db, mk, err := sqlmock.New()
	if err != nil {
		panic(err)
	}
	mock = mk
	infmysql.UseDB(db)
	os.Exit(m.Run())
}

var (
	accountCols = []string{"id", "external_username", "external_password", "external_registered",
		"state", "blocked_reason", "balance", "total_deposited", "total_withdrawn", "created_at", "updated_at"}
	txCols = []string{"id", "account_id", "kind", "state", "amount", "currency", "idempotency_key",
		"payment_reference", "external_reference", "error_message", "retry_count", "balance_before",
		"balance_after", "processing_started_at", "completed_at", "created_at", "updated_at"}
	paymentCols = []string{"id", "account_id", "transaction_id", "provider", "state", "amount",
		"provider_reference", "phone_number", "verified_at", "verification_attempts", "created_at", "expires_at"}
)

func accountRow(id int64, balance string, linked bool) *sqlmock.Rows {
	now := time.Now().UnixMilli()
	var extUser, extPass any
	registered := false
	if linked {
		extUser, extPass, registered = "ext-player", "pw", true
	}
	return sqlmock.NewRows(accountCols).
		AddRow(id, extUser, extPass, registered, 1, "", balance, "0", "0", now, now)
}

func txRow(id string, accountID int64, kind, st, amount string) *sqlmock.Rows {
	now := time.Now().UnixMilli()
	return sqlmock.NewRows(txCols).
		AddRow(id, accountID, kind, st, amount, "SYP", nil, nil, nil, nil, 0, nil, nil, nil, nil, now, now)
}

func paymentRow(id, txID string, accountID int64, st, amount string, expiresAt int64) *sqlmock.Rows {
	now := time.Now().UnixMilli()
	return sqlmock.NewRows(paymentCols).
		AddRow(id, accountID, txID, "telebirr", st, amount, nil, nil, nil, 0, now, expiresAt)
}

// fakeWallet 可编程假实现，记录调用次数
type fakeWallet struct {
	creditFn    func(ctx context.Context, player string, amt decimal.Decimal) (wallet.Response, error)
	debitFn     func(ctx context.Context, player string, amt decimal.Decimal) (wallet.Response, error)
	creditCalls int
	debitCalls  int
}

func (f *fakeWallet) CheckStatus(ctx context.Context) error { return nil }

func (f *fakeWallet) CreatePlayer(ctx context.Context, playerName, password string) (wallet.Response, error) {
	return wallet.Response{}, nil
}

func (f *fakeWallet) Credit(ctx context.Context, playerName string, amount decimal.Decimal) (wallet.Response, error) {
	f.creditCalls++
	if f.creditFn != nil {
		return f.creditFn(ctx, playerName, amount)
	}
	return wallet.Response{Data: map[string]any{"transactionId": "ext-ok"}}, nil
}

func (f *fakeWallet) Debit(ctx context.Context, playerName string, amount decimal.Decimal) (wallet.Response, error) {
	f.debitCalls++
	if f.debitFn != nil {
		return f.debitFn(ctx, playerName, amount)
	}
	return wallet.Response{Data: map[string]any{"transactionId": "ext-ok"}}, nil
}

func (f *fakeWallet) PlayerBalance(ctx context.Context, playerName string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeWallet) AgentBalance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeWallet) ChangePass(ctx context.Context, playerName, newPassword string) error { return nil }

var _ wallet.API = (*fakeWallet)(nil)
