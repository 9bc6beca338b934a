package service

import (
	"context"
	"fmt"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/shopspring/decimal"
)

type SettlementResult struct {
	Transaction  models.Transaction
	SellerCredit decimal.Decimal
	Referrals    []models.ReferralEntry
	Dispensed    int64
	Shortfall    int64
	Fulfillment  *models.FulfillmentRequest
	// Err is ErrInsufficientInventory when only part of the order could be dispensed
	Err error
}

func (r SettlementResult) Event() models.SettledTransaction {
	t := r.Transaction
	return models.SettledTransaction{
		TransactionID: t.ExternalID,
		InvoiceID:     t.InvoiceID,
		Kind:          t.Kind,
		Status:        t.Status,
		Channel:       t.Channel,
		Amount:        t.Amount,
		PayerID:       t.PayerID,
		PayeeID:       t.PayeeID,
		SellerCredit:  r.SellerCredit,
		Dispensed:     r.Dispensed,
		Shortfall:     r.Shortfall,
		SettledAt:     t.SettledAt.Time,
	}
}

// Settle applies the financial effects of a paid transaction exactly once. It
// must run in the transaction that wrote the paid status.
func (svc *PayhubService) Settle(ctx context.Context, tx Store, t *models.Transaction) (*SettlementResult, error) {
	now := svc.now()
	marked, err := tx.MarkTransactionSettled(ctx, t.ID, now)
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, ErrAlreadySettled
	}
	t.SettledAt.Time = now
	result := &SettlementResult{}

	switch t.Kind {
	case common.TransactionKindTopUp:
		err = tx.InsertBalanceEntry(ctx, &models.BalanceEntry{
			UserID:        t.PayerID,
			Account:       common.AccountTypeCurrent,
			EntryType:     common.BalanceEntryTopUp,
			Amount:        roundMoney(t.Amount),
			TransactionID: t.ID,
			CreatedAt:     now,
		})
		if err != nil {
			return nil, err
		}
	case common.TransactionKindPurchase:
		if err := svc.settlePurchase(ctx, tx, t, result); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown transaction kind %q", t.Kind)
	}
	result.Transaction = *t
	return result, nil
}

func (svc *PayhubService) settlePurchase(ctx context.Context, tx Store, t *models.Transaction, result *SettlementResult) error {
	now := svc.now()
	product, err := tx.GetProduct(ctx, t.ProductID)
	if err != nil {
		return err
	}
	if err := tx.IncrementProductSold(ctx, product.ID, t.Quantity); err != nil {
		return err
	}

	switch product.Kind {
	case common.ProductKindProxy:
		result.Fulfillment = &models.FulfillmentRequest{
			TransactionID: t.ExternalID,
			ProductID:     product.ID,
			ProductKind:   product.Kind,
			PayerID:       t.PayerID,
			Quantity:      t.Quantity,
			RequestedAt:   now,
		}
	case common.ProductKindAccount, common.ProductKindSoft:
		for result.Dispensed < t.Quantity {
			claimed, err := tx.ClaimInventoryItem(ctx, product.ID, t.ID, now)
			if err != nil {
				return err
			}
			if !claimed {
				break
			}
			if err := tx.DecrementProductStock(ctx, product.ID, 1); err != nil {
				return err
			}
			result.Dispensed++
		}
		if result.Dispensed < t.Quantity {
			result.Shortfall = t.Quantity - result.Dispensed
			t.Shortfall = result.Shortfall
			if err := tx.UpdateTransaction(ctx, t, "shortfall"); err != nil {
				return err
			}
			result.Err = fmt.Errorf("%w: product %d short by %d", ErrInsufficientInventory, product.ID, result.Shortfall)
		}
	default:
		if err := tx.DecrementProductStock(ctx, product.ID, t.Quantity); err != nil {
			return err
		}
	}

	sellerID := t.PayeeID
	if sellerID == 0 {
		sellerID = product.SellerID
	}
	commission := svc.Config.CommissionFor(product.Category)
	net := roundMoney(t.Amount.Mul(decimal.NewFromInt(1).Sub(commission)))
	result.SellerCredit = net
	err = tx.InsertBalanceEntry(ctx, &models.BalanceEntry{
		UserID:        sellerID,
		Account:       common.AccountTypeSeller,
		EntryType:     common.BalanceEntrySale,
		Amount:        net,
		TransactionID: t.ID,
		CreatedAt:     now,
	})
	if err != nil {
		return err
	}

	result.Referrals, err = svc.Distribute(ctx, tx, t.PayerID, net, t.ID)
	return err
}
