package service

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	chelper "wallet-server/common/helper"
	"wallet-server/common/logger"
	infmysql "wallet-server/internal/infra/mysql"
	infrds "wallet-server/internal/infra/redis"
	"wallet-server/internal/model"
	"wallet-server/internal/wallet"
)

// 外部余额缓存 TTL：降低对远端的读压力，不作为资金依据
const extBalanceTTL = 30 * time.Second

// BalanceOutput 余额汇总
type BalanceOutput struct {
	LocalBalance    string
	ExternalBalance string // 空串表示未绑定或远端暂不可达
	TotalDeposited  string
	TotalWithdrawn  string
}

type BalanceService interface {
	// GetBalance 本地余额为准；外部余额尽力获取（缓存优先），失败不影响返回
	GetBalance(ctx context.Context, accountID int64) (*BalanceOutput, error)
	// SyncExternalBalance 绕过缓存强制回源并刷新缓存
	SyncExternalBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
}

type balanceService struct {
	wallet wallet.API
}

func NewBalanceService(w wallet.API) BalanceService { return &balanceService{wallet: w} }

func (s *balanceService) GetBalance(ctx context.Context, accountID int64) (*BalanceOutput, error) {
	// 读路径走从库
	acct, err := model.GetAccount(ctx, infmysql.Slave(), accountID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	out := &BalanceOutput{
		LocalBalance:   chelper.TrimDecimal(acct.Balance),
		TotalDeposited: chelper.TrimDecimal(acct.TotalDeposited),
		TotalWithdrawn: chelper.TrimDecimal(acct.TotalWithdrawn),
	}
	if !acct.Linked() {
		return out, nil
	}

	key := infrds.ExtBalanceKey(strconv.FormatInt(accountID, 10))
	if r := infrds.Client(); r != nil {
		if v, err := r.Get(ctx, key).Result(); err == nil && v != "" {
			out.ExternalBalance = v
			return out, nil
		}
	}

	bal, err := s.wallet.PlayerBalance(ctx, acct.ExternalUsername.String)
	if err != nil {
		// 外部余额只是展示项，远端不可达时静默降级
		logger.WarnCtx(ctx, "外部余额获取失败", zap.Int64("account_id", accountID), zap.Error(err))
		return out, nil
	}
	out.ExternalBalance = chelper.TrimDecimal(bal)
	if r := infrds.Client(); r != nil {
		_ = r.Set(ctx, key, out.ExternalBalance, extBalanceTTL).Err()
	}
	return out, nil
}

func (s *balanceService) SyncExternalBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	acct, err := model.GetAccount(ctx, infmysql.SQLX(), accountID)
	if err != nil {
		if model.IsNotFound(err) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	if !acct.Linked() {
		return decimal.Zero, ErrNotLinked
	}
	bal, err := s.wallet.PlayerBalance(ctx, acct.ExternalUsername.String)
	if err != nil {
		return decimal.Zero, err
	}
	if r := infrds.Client(); r != nil {
		key := infrds.ExtBalanceKey(strconv.FormatInt(accountID, 10))
		_ = r.Set(ctx, key, chelper.TrimDecimal(bal), extBalanceTTL).Err()
	}
	return bal, nil
}
