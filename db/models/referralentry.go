package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralEntry : append-only referral accrual or withdrawal
type ReferralEntry struct {
	ID            int64           `json:"-" bun:",pk,autoincrement"`
	PayerID       int64           `json:"payer_id" bun:",notnull"`
	BeneficiaryID int64           `json:"beneficiary_id" bun:",notnull"`
	Amount        decimal.Decimal `json:"amount" bun:"type:numeric(20,2),notnull"`
	Level         int             `json:"level" bun:",notnull"`
	TransactionID int64           `json:"transaction_id,omitempty" bun:",nullzero"`
	Type          string          `json:"type" bun:",notnull"`
	CreatedAt     time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}
