package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wallet-server/common/constant"
	"wallet-server/common/logger"
	infmysql "wallet-server/internal/infra/mysql"
	"wallet-server/internal/model"
	"wallet-server/internal/wallet"
)

type AccountService interface {
	// CreateAccount 开户（本地，余额 0）
	CreateAccount(ctx context.Context) (*model.Account, error)
	// LinkExternal 为账户开通外部钱包：远端 createPlayer 成功后回填绑定
	LinkExternal(ctx context.Context, accountID int64, username, password string) error
	// ChangeExternalPassword 外部钱包改密，成功后同步本地凭证
	ChangeExternalPassword(ctx context.Context, accountID int64, newPassword string) error
	GetAccount(ctx context.Context, accountID int64) (*model.Account, error)
}

type accountService struct {
	wallet wallet.API
}

func NewAccountService(w wallet.API) AccountService { return &accountService{wallet: w} }

func (s *accountService) CreateAccount(ctx context.Context) (*model.Account, error) {
	a := &model.Account{State: constant.AccountActive}
	if err := a.Insert(ctx, infmysql.SQLX()); err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "开户成功", zap.Int64("account_id", a.ID))
	return a, nil
}

// LinkExternal 远端先注册，注册成功才落本地绑定。
// 远端成功但本地落库失败时绑定丢失，重试会吃到远端“用户已存在”，需人工处理，
// 因此失败路径要把远端结果原样打进日志。
func (s *accountService) LinkExternal(ctx context.Context, accountID int64, username, password string) error {
	db := infmysql.SQLX()
	acct, err := model.GetAccount(ctx, db, accountID)
	if err != nil {
		if model.IsNotFound(err) {
			return ErrAccountNotFound
		}
		return err
	}
	if err := ensureActive(acct); err != nil {
		return err
	}
	if acct.Linked() {
		return ErrAlreadyLinked
	}

	if _, err := s.wallet.CreatePlayer(ctx, username, password); err != nil {
		logger.ErrorCtx(ctx, "外部钱包开户失败",
			zap.Int64("account_id", accountID), zap.String("username", username), zap.Error(err))
		return fmt.Errorf("external account creation failed: %w", err)
	}

	if err := model.LinkExternalAccount(ctx, db, accountID, username, password); err != nil {
		logger.ErrorCtx(ctx, "外部开户成功但本地绑定失败，需人工回填",
			zap.Int64("account_id", accountID), zap.String("username", username), zap.Error(err))
		return err
	}
	logger.InfoCtx(ctx, "外部钱包绑定成功",
		zap.Int64("account_id", accountID), zap.String("username", username))
	auditBestEffort(ctx, &model.AuditLog{
		EventType: "api_call", AccountID: accountID,
		EntityType: "account", EntityID: fmt.Sprintf("%d", accountID),
		Action: "link_external", NewValue: username,
	})
	return nil
}

func (s *accountService) ChangeExternalPassword(ctx context.Context, accountID int64, newPassword string) error {
	db := infmysql.SQLX()
	acct, err := model.GetAccount(ctx, db, accountID)
	if err != nil {
		if model.IsNotFound(err) {
			return ErrAccountNotFound
		}
		return err
	}
	if !acct.Linked() {
		return ErrNotLinked
	}
	if err := s.wallet.ChangePass(ctx, acct.ExternalUsername.String, newPassword); err != nil {
		return err
	}
	if err := model.UpdateExternalPassword(ctx, db, accountID, newPassword); err != nil {
		logger.ErrorCtx(ctx, "远端改密成功但本地凭证同步失败",
			zap.Int64("account_id", accountID), zap.Error(err))
		return err
	}
	logger.InfoCtx(ctx, "外部钱包改密成功", zap.Int64("account_id", accountID))
	return nil
}

func (s *accountService) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	a, err := model.GetAccount(ctx, infmysql.Slave(), accountID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}
