package service

import (
	"context"
	"time"

	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/registry"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

// PriceOracle converts a USD amount into an amount of the quote currency.
type PriceOracle interface {
	Quote(ctx context.Context, currency string, usdAmount decimal.Decimal) (decimal.Decimal, error)
}

type PayhubService struct {
	Config           *Config
	Store            Store
	Oracle           PriceOracle
	Registry         *registry.Registry
	Fulfiller        Fulfiller
	Logger           *lecho.Logger
	SettlementPubSub *Pubsub
	// Clock defaults to time.Now
	Clock func() time.Time
}

func (svc *PayhubService) now() time.Time {
	if svc.Clock != nil {
		return svc.Clock()
	}
	return time.Now()
}

// GetInvoice returns the invoice with its transactions.
func (svc *PayhubService) GetInvoice(ctx context.Context, externalID string) (*models.Invoice, error) {
	return svc.Store.GetInvoiceByExternalID(ctx, externalID)
}
