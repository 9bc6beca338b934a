package controllers

import (
	"io"
	"net/http"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/lib/responses"
	"github.com/gemups/payhub/lib/service"
	"github.com/labstack/echo/v4"
)

const stripeSignatureHeader = "Stripe-Signature"

// WebhookController : receives the payment notifications of the payment channels
type WebhookController struct {
	svc *service.PayhubService
}

func NewWebhookController(svc *service.PayhubService) *WebhookController {
	return &WebhookController{svc: svc}
}

type WebhookResponseBody struct {
	Status         string `json:"status"`
	Reference      string `json:"reference,omitempty"`
	AlreadySettled bool   `json:"already_settled,omitempty"`
}

func (controller *WebhookController) Cryptomus(c echo.Context) error {
	return controller.reconcile(c, common.ChannelCryptomus, "")
}

func (controller *WebhookController) Stripe(c echo.Context) error {
	return controller.reconcile(c, common.ChannelStripe, c.Request().Header.Get(stripeSignatureHeader))
}

// Crypto receives signed transfers pushed by chain watchers.
func (controller *WebhookController) Crypto(c echo.Context) error {
	return controller.reconcile(c, common.ChannelChain, "")
}

func (controller *WebhookController) reconcile(c echo.Context, channel, signature string) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.Logger().Errorf("Failed to read %s webhook body: %v", channel, err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	outcome, err := controller.svc.Reconcile(c.Request().Context(), channel, service.Notification{
		Payload:   payload,
		Signature: signature,
	})
	if err != nil {
		// a server error makes the provider deliver the notification again
		return err
	}
	if !outcome.Accepted {
		response := responses.ErrorFor(outcome.Reason)
		if response.HttpStatusCode >= http.StatusInternalServerError {
			response = responses.BadArgumentsError
			if outcome.Reason != nil {
				response.Message = outcome.Reason.Error()
			}
		}
		return c.JSON(response.HttpStatusCode, response)
	}
	return c.JSON(http.StatusOK, &WebhookResponseBody{
		Status:         outcome.Status,
		Reference:      outcome.Reference,
		AlreadySettled: outcome.AlreadySettled,
	})
}
