package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceEntry : Balance Entries Model
// A balance is the sum of the entries of one user account.
type BalanceEntry struct {
	ID            int64           `bun:",pk,autoincrement"`
	UserID        int64           `bun:",notnull"`
	User          *User           `bun:"rel:belongs-to,join:user_id=id"`
	Account       string          `bun:",notnull"`
	EntryType     string          `bun:",notnull"`
	Amount        decimal.Decimal `bun:"type:numeric(20,2),notnull"`
	TransactionID int64           `bun:",nullzero"`
	CreatedAt     time.Time       `bun:",nullzero,notnull,default:current_timestamp"`
}
