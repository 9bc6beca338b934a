package transport

import (
	"github.com/gemups/payhub/controllers"
	"github.com/gemups/payhub/lib/service"
	"github.com/labstack/echo/v4"
)

// RegisterV1Endpoints mounts the invoice, referral and webhook routes. Webhooks
// authenticate by signature and are not behind the admin token.
func RegisterV1Endpoints(svc *service.PayhubService, e *echo.Echo, adminMw echo.MiddlewareFunc, logMw echo.MiddlewareFunc, cacheMw echo.MiddlewareFunc) {
	admin := e.Group("/v1", adminMw, logMw)

	invoiceCtrl := controllers.NewInvoiceController(svc)
	admin.POST("/invoices", invoiceCtrl.CreateInvoice)
	admin.POST("/invoices/:uuid/currency", invoiceCtrl.SelectCurrency)
	admin.GET("/invoices/:uuid", invoiceCtrl.GetInvoice)

	referralCtrl := controllers.NewReferralController(svc)
	admin.GET("/referrals/:user_id", referralCtrl.Summary)
	admin.POST("/referrals/:user_id/withdraw", referralCtrl.Withdraw)

	methodsCtrl := controllers.NewPaymentMethodsController(svc)
	if cacheMw != nil {
		e.GET("/v1/payments/crypto-methods", methodsCtrl.CryptoMethods, cacheMw)
	} else {
		e.GET("/v1/payments/crypto-methods", methodsCtrl.CryptoMethods)
	}

	webhookCtrl := controllers.NewWebhookController(svc)
	webhooks := e.Group("/v1/webhooks", logMw)
	webhooks.POST("/cryptomus", webhookCtrl.Cryptomus)
	webhooks.POST("/stripe", webhookCtrl.Stripe)
	webhooks.POST("/crypto", webhookCtrl.Crypto)

	e.GET("/health", controllers.NewHealthController().Check)
}
