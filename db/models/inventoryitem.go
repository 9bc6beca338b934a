package models

import (
	"time"

	"github.com/uptrace/bun"
)

// InventoryItem : one dispensable unit of a stocked digital good
type InventoryItem struct {
	ID            int64  `bun:",pk,autoincrement"`
	ProductID     int64  `bun:",notnull"`
	Payload       string `bun:",notnull"`
	TransactionID int64  `bun:",nullzero"`
	ClaimedAt     bun.NullTime
	CreatedAt     time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
