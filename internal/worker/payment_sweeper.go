package worker

import (
	"context"
	"sync"
	"time"

	"wallet-server/common/logger"
	"wallet-server/internal/service"

	"go.uber.org/zap"
)

// StartPaymentSweeper 周期性将超时未核销的支付凭证置为 expired
// 过期后充值交易无法再确认，只能重新发起
func StartPaymentSweeper(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	svc := service.NewPaymentService()
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c, cancel := context.WithTimeout(ctx, 5*time.Second)
				n, err := svc.ExpireStale(c)
				cancel()
				if err != nil {
					logger.Warn("payment sweeper: expire failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("payment sweeper: expired stale payments", zap.Int64("count", n))
				}
			}
		}
	}()
}
