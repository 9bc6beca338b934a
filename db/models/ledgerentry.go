package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry : one observed on-chain transfer
type LedgerEntry struct {
	ID           int64           `bun:",pk,autoincrement"`
	TxHash       string          `bun:",unique,notnull"`
	Currency     string          `bun:",notnull"`
	Network      string          `bun:",notnull"`
	TokenAddress string          `bun:",nullzero"`
	RawAmount    decimal.Decimal `bun:"type:numeric(78,0),notnull"`
	Decimals     int32           `bun:",notnull"`
	FromAddress  string          `bun:",nullzero"`
	ToAddress    string          `bun:",notnull"`
	ObservedAt   time.Time       `bun:",notnull"`
	Consumed     bool            `bun:",notnull,default:false"`
	InvoiceID    int64           `bun:",nullzero"`
	CreatedAt    time.Time       `bun:",nullzero,notnull,default:current_timestamp"`
}

// Amount is the transfer value in whole token units.
func (le *LedgerEntry) Amount() decimal.Decimal {
	return le.RawAmount.Shift(-le.Decimals)
}
