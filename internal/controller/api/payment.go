package api

import (
	beego "github.com/beego/beego/v2/server/web"

	helper "wallet-server/internal/common/helper"
	"wallet-server/internal/common/response"
	"wallet-server/internal/service"
)

var newPaymentService = service.NewPaymentService

type PaymentController struct{ beego.Controller }

// Verify 支付凭证核销：POST /api/payment/verify
// 核销成功后前端再调用充值确认接口推进交易
func (c *PaymentController) Verify() {
	traceID := helper.GetTraceID(c.Ctx)
	vp, ok, msg := helper.ParseAndValidateVerify(c.Ctx)
	if !ok {
		response.BadRequest(&c.Controller, msg, traceID)
		return
	}

	out, err := newPaymentService().VerifyPayment(c.Ctx.Request.Context(), service.VerifyInput{
		PaymentID:         vp.PaymentId,
		ProviderReference: vp.ProviderReference,
		PhoneNumber:       vp.PhoneNumber,
		TraceID:           traceID,
	})
	if err != nil {
		writeServiceError(&c.Controller, err, traceID)
		return
	}
	response.Success(&c.Controller, out, traceID)
}
