package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Transaction : a purchase or a balance top-up that settles once it is paid
type Transaction struct {
	ID         int64           `json:"-" bun:",pk,autoincrement"`
	ExternalID string          `json:"uuid" bun:",unique,notnull"`
	InvoiceID  int64           `json:"-" bun:",notnull"`
	Invoice    *Invoice        `json:"-" bun:"rel:belongs-to,join:invoice_id=id"`
	Kind       string          `json:"kind" bun:",notnull"`
	Amount     decimal.Decimal `json:"amount" bun:"type:numeric(20,3),notnull"`
	Quantity   int64           `json:"quantity" bun:",notnull,default:1"`
	Status     string          `json:"status" bun:",notnull,default:'created'"`
	Channel    string          `json:"channel,omitempty" bun:",nullzero"`
	PayerID    int64           `json:"payer_id" bun:",notnull"`
	PayeeID    int64           `json:"payee_id,omitempty" bun:",nullzero"`
	ProductID  int64           `json:"product_id,omitempty" bun:",nullzero"`
	Product    *Product        `json:"-" bun:"rel:belongs-to,join:product_id=id"`
	Shortfall  int64           `json:"shortfall,omitempty" bun:",notnull,default:0"`
	SettledAt  bun.NullTime    `json:"settled_at"`
	CreatedAt  time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt  bun.NullTime    `json:"updated_at"`
}

func (t *Transaction) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		t.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

func (t Transaction) IsSettled() bool {
	return !t.SettledAt.IsZero()
}

var _ bun.BeforeAppendModelHook = (*Transaction)(nil)
