package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	beego "github.com/beego/beego/v2/server/web"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"wallet-server/common"
	"wallet-server/common/logger"
	"wallet-server/internal/breaker"
	"wallet-server/internal/config"
	"wallet-server/internal/controller/api"
	infmysql "wallet-server/internal/infra/mysql"
	infrds "wallet-server/internal/infra/redis"
	"wallet-server/internal/retry"
	"wallet-server/internal/wallet"
	"wallet-server/internal/worker"
	_ "wallet-server/routers"
)

func main() {
	logger.InitLogger()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 配置：Nacos 优先，本地文件兜底
	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatalf("load config failed", zap.Error(err))
	}
	config.Set(cfg)
	config.SetCurrent(cfg)
	if cfg.Server.LogLevel != "" {
		logger.SetLevel(cfg.Server.LogLevel)
	}

	// 配置热更新：目前只有日志级别与功能开关需要即时生效
	if err := config.StartWatch(ctx, func(oldCfg, newCfg *config.Config) {
		if newCfg.Server.LogLevel != "" && newCfg.Server.LogLevel != oldCfg.Server.LogLevel {
			logger.SetLevel(newCfg.Server.LogLevel)
		}
	}); err != nil {
		logger.Warn("config watch not started", zap.Error(err))
	}

	// 主库 + 可选从库
	db := common.InitDB(cfg.Database.DSN, cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns)
	infmysql.UseDB(db.DB)
	if cfg.Database.SlaveDSN != "" {
		infmysql.UseSlave(common.InitSlaveDB(cfg.Database.SlaveDSN, cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns))
	}

	infrds.Init(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	// 外部钱包客户端：重试执行器 + 共享熔断器
	reg := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Resilience.Breaker.RecoveryTimeoutSec) * time.Second,
		HalfOpenMaxCalls: cfg.Resilience.Breaker.HalfOpenMaxCalls,
	})
	exec := retry.New(retry.Options{
		MaxRetries:   cfg.Resilience.Retry.MaxRetries,
		InitialDelay: time.Duration(cfg.Resilience.Retry.InitialDelayMS) * time.Millisecond,
		Multiplier:   cfg.Resilience.Retry.Multiplier,
	})
	wc := wallet.NewClient(wallet.Options{
		BaseURL:  cfg.Wallet.BaseURL,
		Username: cfg.Wallet.Username,
		Password: cfg.Wallet.Password,
		Timeout:  time.Duration(cfg.Wallet.TimeoutMS) * time.Millisecond,
	}, exec, reg)
	api.SetWalletClient(wc)
	api.SetBreakerRegistry(reg)

	// 后台任务：outbox 分发、inbox 消费、支付凭证过期清理
	var wg sync.WaitGroup
	worker.StartOutboxDispatcher(ctx, &wg)
	worker.StartInboxConsumer(ctx, &wg)
	worker.StartPaymentSweeper(ctx, &wg)

	// 优雅退出：先停后台任务再落盘日志
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		logger.Info("shutting down", zap.String("signal", s.String()))
		cancel()
		wg.Wait()
		logger.Sync()
		os.Exit(0)
	}()

	if cfg.Server.Port > 0 {
		beego.BConfig.Listen.HTTPPort = cfg.Server.Port
	}
	beego.BConfig.CopyRequestBody = true

	logger.Info("wallet-server starting", zap.Int("port", beego.BConfig.Listen.HTTPPort))
	beego.Run()
}
