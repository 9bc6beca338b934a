package service

import (
	"context"

	"github.com/gemups/payhub/common"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

type stripeHandler struct {
	svc *PayhubService
}

func (h *stripeHandler) Reconcile(ctx context.Context, n Notification) (*Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(n.Payload, n.Signature, h.svc.Config.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return rejected(ErrInvalidSignature), nil
	}

	object := gjson.ParseBytes(event.Data.Raw)
	ref := object.Get("metadata.uuid").String()
	var tr transition
	switch string(event.Type) {
	case "invoice.paid":
		received := decimal.New(object.Get("amount_paid").Int(), -2)
		tr = transition{Reference: ref, Status: common.TransactionStatusPaid, Received: &received}
	case "invoice.payment_failed":
		tr = transition{Reference: ref, Status: common.TransactionStatusFail}
	default:
		return &Outcome{Accepted: true, Reference: ref}, nil
	}
	if ref == "" {
		return &Outcome{Reason: ErrNotFound}, nil
	}
	return h.svc.applyTransition(ctx, common.ChannelStripe, tr)
}
