package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceItem struct {
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int64 `json:"quantity" validate:"gte=0"`
}

type CreateInvoiceParams struct {
	PayerID   int64
	Kind      string
	Items     []InvoiceItem
	AmountUSD decimal.Decimal
	// optional, the invoice is quoted right away when both are set
	Currency string
	Network  string
}

func bucketKey(currency, network string, amountUSD decimal.Decimal) string {
	return fmt.Sprintf("quote:%s:%s:%s", currency, network, amountUSD.String())
}

// allocateQuote picks a quoted amount no other open invoice of the bucket holds.
// The first invoice of a bucket gets the converted amount plus one step, every
// later one the current maximum plus one step. The caller must run it in a
// transaction.
func (svc *PayhubService) allocateQuote(ctx context.Context, tx Store, invoice *models.Invoice, converted decimal.Decimal) error {
	now := svc.now()
	if err := tx.Lock(ctx, bucketKey(invoice.Currency, invoice.Network, invoice.AmountUSD)); err != nil {
		return err
	}
	max, err := tx.MaxOpenQuotedAmount(ctx, invoice.Currency, invoice.Network, invoice.AmountUSD, now)
	if err != nil {
		return err
	}
	amount := converted.Round(common.QuoteScale).Add(quoteStep())
	if max.Valid {
		amount = max.Decimal.Add(quoteStep())
	}
	invoice.QuotedAmount = decimal.NullDecimal{Decimal: amount, Valid: true}
	invoice.Active = true
	invoice.ExpiresAt = now.Add(svc.Config.InvoiceTTL)
	return nil
}

func (svc *PayhubService) convert(ctx context.Context, currency, network string, amountUSD decimal.Decimal) (string, string, decimal.Decimal, error) {
	token, ok := svc.Registry.Lookup(currency, network)
	if !ok {
		return "", "", decimal.Zero, fmt.Errorf("%w: %s %s", ErrUnsupportedCurrency, currency, network)
	}
	converted, err := svc.Oracle.Quote(ctx, token.Ticker, amountUSD)
	if err != nil {
		return "", "", decimal.Zero, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return token.Ticker, token.Network, converted, nil
}

func (svc *PayhubService) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, error) {
	if _, err := svc.Store.GetUser(ctx, params.PayerID); err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		ExternalID: uuid.NewString(),
		Kind:       params.Kind,
		PayerID:    params.PayerID,
		CreatedAt:  svc.now(),
		ExpiresAt:  svc.now().Add(svc.Config.InvoiceTTL),
	}
	transactions := []*models.Transaction{}

	switch params.Kind {
	case common.InvoiceKindPurchase:
		if len(params.Items) == 0 {
			return nil, errors.New("purchase invoice without items")
		}
		total := decimal.Zero
		for _, item := range params.Items {
			product, err := svc.Store.GetProduct(ctx, item.ProductID)
			if err != nil {
				return nil, err
			}
			quantity := item.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			amount := product.PriceUSD.Mul(decimal.NewFromInt(quantity))
			total = total.Add(amount)
			transactions = append(transactions, &models.Transaction{
				ExternalID: uuid.NewString(),
				Kind:       common.TransactionKindPurchase,
				Amount:     amount,
				Quantity:   quantity,
				Status:     common.TransactionStatusCreated,
				PayerID:    params.PayerID,
				PayeeID:    product.SellerID,
				ProductID:  product.ID,
			})
		}
		invoice.AmountUSD = roundMoney(total)
	case common.InvoiceKindBalance:
		if !params.AmountUSD.IsPositive() {
			return nil, errors.New("top up amount must be positive")
		}
		invoice.AmountUSD = roundMoney(params.AmountUSD)
		transactions = append(transactions, &models.Transaction{
			ExternalID: uuid.NewString(),
			Kind:       common.TransactionKindTopUp,
			Amount:     invoice.AmountUSD,
			Quantity:   1,
			Status:     common.TransactionStatusCreated,
			PayerID:    params.PayerID,
		})
	default:
		return nil, fmt.Errorf("unknown invoice kind %q", params.Kind)
	}

	var converted decimal.Decimal
	quote := params.Currency != "" && params.Network != ""
	if quote {
		var err error
		invoice.Currency, invoice.Network, converted, err = svc.convert(ctx, params.Currency, params.Network, invoice.AmountUSD)
		if err != nil {
			return nil, err
		}
	}

	err := svc.Store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		open, err := tx.CountOpenInvoices(ctx, params.PayerID, svc.now())
		if err != nil {
			return err
		}
		if svc.Config.MaxOpenInvoices > 0 && open >= svc.Config.MaxOpenInvoices {
			return ErrTooManyOpenInvoices
		}
		if quote {
			if err := svc.allocateQuote(ctx, tx, invoice, converted); err != nil {
				return err
			}
		}
		if err := tx.InsertInvoice(ctx, invoice); err != nil {
			return err
		}
		for _, t := range transactions {
			t.InvoiceID = invoice.ID
			if err := tx.InsertTransaction(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	invoice.Transactions = transactions
	invoicesCreatedTotal.WithLabelValues(invoice.Kind).Inc()
	svc.Logger.Infof("Created invoice invoice_id:%s kind:%s payer_id:%d amount_usd:%s", invoice.ExternalID, invoice.Kind, invoice.PayerID, invoice.AmountUSD)
	return invoice, nil
}

// SelectInvoiceCurrency quotes the invoice in the chosen currency and network.
// Selecting again restarts the invoice lifetime.
func (svc *PayhubService) SelectInvoiceCurrency(ctx context.Context, externalID, currency, network string) (*models.Invoice, error) {
	invoice, err := svc.Store.GetInvoiceByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	for _, t := range invoice.Transactions {
		if common.IsPaidStatus(t.Status) || t.IsSettled() {
			return nil, ErrInvoiceNotSelectable
		}
	}
	if strings.EqualFold(invoice.Currency, currency) && strings.EqualFold(invoice.Network, network) && invoice.IsOpen(svc.now()) {
		return invoice, nil
	}

	ticker, chain, converted, err := svc.convert(ctx, currency, network, invoice.AmountUSD)
	if err != nil {
		return nil, err
	}
	invoice.Currency, invoice.Network = ticker, chain
	// the invoice must not count as a bucket member while it is re-quoted
	invoice.Active = false
	err = svc.Store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.UpdateInvoiceQuote(ctx, invoice); err != nil {
			return err
		}
		if err := svc.allocateQuote(ctx, tx, invoice, converted); err != nil {
			return err
		}
		return tx.UpdateInvoiceQuote(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}
	svc.Logger.Infof("Quoted invoice invoice_id:%s currency:%s network:%s amount:%s", invoice.ExternalID, invoice.Currency, invoice.Network, invoice.QuotedAmount.Decimal)
	return invoice, nil
}

// PaymentAddress returns the address the buyer should pay a quoted invoice to.
func (svc *PayhubService) PaymentAddress(invoice *models.Invoice) string {
	if invoice.Currency == "" {
		return ""
	}
	address, _ := svc.Registry.PaymentAddress(invoice.Currency, invoice.Network)
	return address
}
