package models

import (
	"time"
)

type ScannerCursor struct {
	Name      string    `bun:",pk"`
	Cursor    int64     `bun:",notnull"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
