package service

import (
	"context"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/lib/security"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var cryptomusStatuses = map[string]string{
	"paid":                 common.TransactionStatusPaid,
	"paid_over":            common.TransactionStatusPaidOver,
	"wrong_amount":         common.TransactionStatusFail,
	"fail":                 common.TransactionStatusFail,
	"system_fail":          common.TransactionStatusFail,
	"refund_fail":          common.TransactionStatusFail,
	"cancel":               common.TransactionStatusCancel,
	"refund_process":       common.TransactionStatusRefund,
	"refund_paid":          common.TransactionStatusRefund,
	"process":              common.TransactionStatusProcess,
	"check":                common.TransactionStatusProcess,
	"confirm_check":        common.TransactionStatusProcess,
	"confirmations":        common.TransactionStatusProcess,
	"wrong_amount_waiting": common.TransactionStatusProcess,
	"locked":               common.TransactionStatusProcess,
}

type cryptomusHandler struct {
	svc *PayhubService
}

func (h *cryptomusHandler) Reconcile(ctx context.Context, n Notification) (*Outcome, error) {
	ok, err := security.Verify(n.Payload, h.svc.Config.CryptomusApiKey)
	if err != nil || !ok {
		return rejected(ErrInvalidSignature), nil
	}
	tr, err := parseCryptomus(n.Payload)
	if err != nil {
		return &Outcome{Reason: err}, nil
	}
	return h.svc.applyTransition(ctx, common.ChannelCryptomus, tr)
}

// parseCryptomus reads the payment reference, status and received amount of a
// verified Cryptomus payment notification.
func parseCryptomus(payload []byte) (transition, error) {
	fields := gjson.GetManyBytes(payload, "order_id", "uuid", "status", "payment_amount_usd")
	ref := fields[0].String()
	if ref == "" {
		ref = fields[1].String()
	}
	if ref == "" {
		return transition{}, ErrNotFound
	}
	status, ok := cryptomusStatuses[fields[2].String()]
	if !ok {
		return transition{}, ErrUnknownStatus
	}
	tr := transition{Reference: ref, Status: status}
	if status == common.TransactionStatusPaidOver {
		if received, err := decimal.NewFromString(fields[3].String()); err == nil && received.IsPositive() {
			tr.Received = &received
		}
	}
	return tr, nil
}
