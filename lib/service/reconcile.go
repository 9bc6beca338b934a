package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/shopspring/decimal"
)

// Notification is one payment event as delivered by a channel.
type Notification struct {
	// Payload is the raw webhook body
	Payload []byte
	// Signature carries the signature header of channels that sign out of band
	Signature string
	// Entry is set for chain transfers the scanner already stored
	Entry *models.LedgerEntry
	// Transfer is set for chain transfers received from the message broker
	Transfer *models.ChainTransfer
}

// Outcome describes what a reconciliation did. Rejected notifications carry the
// reason in Reason and are not retried by the provider.
type Outcome struct {
	Accepted       bool
	AlreadySettled bool
	Reason         error
	Reference      string
	Status         string
	Settlements    []SettlementResult
}

func rejected(reason error) *Outcome {
	return &Outcome{Reason: reason}
}

// transition is a verified status change of the transactions behind a reference.
type transition struct {
	Reference string
	Status    string
	// Received is the amount the payer actually paid, when the channel reports it
	Received *decimal.Decimal
}

type ChannelHandler interface {
	Reconcile(ctx context.Context, n Notification) (*Outcome, error)
}

func (svc *PayhubService) handler(channel string) (ChannelHandler, bool) {
	switch channel {
	case common.ChannelCryptomus:
		return &cryptomusHandler{svc: svc}, true
	case common.ChannelStripe:
		return &stripeHandler{svc: svc}, true
	case common.ChannelChain:
		return &chainHandler{svc: svc}, true
	}
	return nil, false
}

// Reconcile verifies a notification of the channel and applies it. A non nil
// error means the notification could not be processed and should be delivered
// again.
func (svc *PayhubService) Reconcile(ctx context.Context, channel string, n Notification) (*Outcome, error) {
	handler, ok := svc.handler(channel)
	if !ok {
		return nil, fmt.Errorf("unknown payment channel %q", channel)
	}
	outcome, err := handler.Reconcile(ctx, n)
	if err != nil {
		reconciliationsTotal.WithLabelValues(channel, "error").Inc()
		return nil, err
	}
	reconciliationsTotal.WithLabelValues(channel, outcomeLabel(outcome)).Inc()
	if !outcome.Accepted {
		svc.Logger.Warnf("Rejected %s notification reference:%s reason:%v", channel, outcome.Reference, outcome.Reason)
		return outcome, nil
	}
	svc.afterSettlement(ctx, channel, outcome.Settlements)
	return outcome, nil
}

func outcomeLabel(outcome *Outcome) string {
	switch {
	case !outcome.Accepted && errors.Is(outcome.Reason, ErrInvalidSignature):
		return "invalid_signature"
	case !outcome.Accepted:
		return "rejected"
	case outcome.AlreadySettled:
		return "duplicate"
	case len(outcome.Settlements) > 0:
		return "settled"
	}
	return "accepted"
}

// applyTransition writes the status to every transaction behind the reference
// and settles them when the status is a paid one.
func (svc *PayhubService) applyTransition(ctx context.Context, channel string, tr transition) (*Outcome, error) {
	outcome := &Outcome{Reference: tr.Reference, Status: tr.Status}
	err := svc.Store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		transactions, err := tx.FindTransactionsByReference(ctx, tr.Reference)
		if err != nil {
			return err
		}
		if len(transactions) == 0 {
			outcome.Reason = ErrNotFound
			return nil
		}
		outcome.Accepted = true
		if allSettled(transactions) {
			outcome.AlreadySettled = true
			return nil
		}

		status := tr.Status
		if status == common.TransactionStatusPaid && tr.Received != nil && tr.Received.GreaterThan(totalAmount(transactions)) {
			status = common.TransactionStatusPaidOver
		}
		outcome.Status = status

		var amounts []decimal.Decimal
		if status == common.TransactionStatusPaidOver && tr.Received != nil {
			amounts = distributeReceived(*tr.Received, transactions)
		}
		for i := range transactions {
			t := &transactions[i]
			if t.IsSettled() {
				continue
			}
			t.Status = status
			t.Channel = channel
			if amounts != nil {
				t.Amount = amounts[i]
			}
			if err := tx.UpdateTransaction(ctx, t, "status", "channel", "amount"); err != nil {
				return err
			}
			if !common.IsPaidStatus(status) {
				continue
			}
			result, err := svc.Settle(ctx, tx, t)
			if errors.Is(err, ErrAlreadySettled) {
				outcome.AlreadySettled = true
				continue
			}
			if err != nil {
				return err
			}
			outcome.Settlements = append(outcome.Settlements, *result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func allSettled(transactions []models.Transaction) bool {
	for _, t := range transactions {
		if !t.IsSettled() {
			return false
		}
	}
	return true
}

func totalAmount(transactions []models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range transactions {
		total = total.Add(t.Amount)
	}
	return total
}

// distributeReceived splits an overpayment over the transactions in proportion
// to their recorded amounts. The last transaction takes the rounding remainder.
func distributeReceived(received decimal.Decimal, transactions []models.Transaction) []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(transactions))
	if len(transactions) == 1 {
		amounts[0] = received
		return amounts
	}
	total := totalAmount(transactions)
	rest := received
	for i, t := range transactions {
		if i == len(transactions)-1 {
			amounts[i] = rest
			break
		}
		share := received.Div(decimal.NewFromInt(int64(len(transactions))))
		if total.IsPositive() {
			share = received.Mul(t.Amount).Div(total)
		}
		share = share.Round(common.QuoteScale)
		amounts[i] = share
		rest = rest.Sub(share)
	}
	return amounts
}

// afterSettlement runs the side effects that must not be rolled back with the
// settlement.
func (svc *PayhubService) afterSettlement(ctx context.Context, channel string, results []SettlementResult) {
	for _, result := range results {
		settlementsTotal.WithLabelValues(result.Transaction.Kind).Inc()
		if result.Err != nil {
			svc.Logger.Errorf("Transaction settled with partial fulfillment transaction_id:%s shortfall:%d error:%v", result.Transaction.ExternalID, result.Shortfall, result.Err)
			svc.captureErr(result.Err)
		} else {
			svc.Logger.Infof("Transaction settled transaction_id:%s channel:%s amount:%s", result.Transaction.ExternalID, channel, result.Transaction.Amount)
		}
		if result.Fulfillment != nil {
			svc.provision(ctx, *result.Fulfillment)
		}
		if svc.SettlementPubSub != nil {
			if dropped := svc.SettlementPubSub.Publish(common.TopicTransactionSettled, result.Event()); dropped > 0 {
				droppedEventsTotal.Add(float64(dropped))
			}
		}
	}
}
