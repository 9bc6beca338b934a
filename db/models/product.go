package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id" bun:",pk,autoincrement"`
	SellerID  int64           `json:"seller_id" bun:",notnull"`
	Seller    *User           `json:"-" bun:"rel:belongs-to,join:seller_id=id"`
	Title     string          `json:"title" bun:",notnull"`
	Category  string          `json:"category" bun:",notnull"`
	Kind      string          `json:"kind" bun:",notnull"`
	InStock   int64           `json:"in_stock" bun:",notnull,default:0"`
	Sold      int64           `json:"sold" bun:",notnull,default:0"`
	PriceUSD  decimal.Decimal `json:"price_usd" bun:"price_usd,type:numeric(20,2),notnull"`
	CreatedAt time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}
