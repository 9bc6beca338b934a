package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Invoice : Invoice Model
type Invoice struct {
	ID           int64               `json:"-" bun:",pk,autoincrement"`
	ExternalID   string              `json:"uuid" bun:",unique,notnull"`
	Kind         string              `json:"kind" bun:",notnull"`
	PayerID      int64               `json:"payer_id" bun:",notnull"`
	Payer        *User               `json:"-" bun:"rel:belongs-to,join:payer_id=id"`
	Currency     string              `json:"currency,omitempty" bun:",nullzero"`
	Network      string              `json:"network,omitempty" bun:",nullzero"`
	QuotedAmount decimal.NullDecimal `json:"amount" bun:"type:numeric(20,3)"`
	AmountUSD    decimal.Decimal     `json:"amount_usd" bun:"amount_usd,type:numeric(20,2),notnull"`
	Active       bool                `json:"is_active" bun:",notnull,default:false"`
	Transactions []*Transaction      `json:"transactions,omitempty" bun:"rel:has-many,join:id=invoice_id"`
	CreatedAt    time.Time           `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	ExpiresAt    time.Time           `json:"expires_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt    bun.NullTime        `json:"updated_at"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

// IsOpen reports whether the invoice can still receive a payment at the given time.
func (i *Invoice) IsOpen(now time.Time) bool {
	return i.Active && i.ExpiresAt.After(now)
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)
