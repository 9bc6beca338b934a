package controllers

import (
	"net/http"

	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/lib/service"
	"github.com/labstack/echo/v4"
)

// PaymentMethodsController : lists the accepted crypto currencies
type PaymentMethodsController struct {
	svc *service.PayhubService
}

func NewPaymentMethodsController(svc *service.PayhubService) *PaymentMethodsController {
	return &PaymentMethodsController{svc: svc}
}

type CryptoMethodsResponseBody struct {
	Methods []registry.Method `json:"methods"`
}

func (controller *PaymentMethodsController) CryptoMethods(c echo.Context) error {
	return c.JSON(http.StatusOK, &CryptoMethodsResponseBody{Methods: controller.svc.Registry.Methods()})
}
