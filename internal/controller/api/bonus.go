package api

import (
	beego "github.com/beego/beego/v2/server/web"

	helper "wallet-server/internal/common/helper"
	"wallet-server/internal/common/response"
	"wallet-server/internal/service"
)

var newBonusService = service.NewBonusService

type BonusController struct{ beego.Controller }

// Redeem 领取活动赠金：POST /api/bonus/redeem
func (c *BonusController) Redeem() {
	traceID := helper.GetTraceID(c.Ctx)
	bp, ok, msg := helper.ParseAndValidateBonusRedeem(c.Ctx)
	if !ok {
		response.BadRequest(&c.Controller, msg, traceID)
		return
	}

	out, err := newBonusService().Redeem(c.Ctx.Request.Context(), service.RedeemInput{
		AccountID:            bp.AccountId,
		Code:                 bp.Code,
		DepositTransactionID: bp.TransactionId,
		TraceID:              traceID,
	})
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, out, traceID)
}

// ListActive 当前生效活动码：GET /api/bonus/active
func (c *BonusController) ListActive() {
	traceID := helper.GetTraceID(c.Ctx)
	list, err := newBonusService().ListActive(c.Ctx.Request.Context())
	if err != nil {
		response.InternalError(&c.Controller, traceID)
		return
	}
	response.Success(&c.Controller, map[string]any{"bonuses": list, "count": len(list)}, traceID)
}
