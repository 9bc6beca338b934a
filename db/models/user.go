package models

import (
	"time"
)

// User : User Model
type User struct {
	ID         int64     `json:"id" bun:",pk,autoincrement"`
	Login      string    `json:"login" bun:",unique,notnull"`
	ReferrerID int64     `json:"referrer_id,omitempty" bun:",nullzero"`
	Referrer   *User     `json:"-" bun:"rel:belongs-to,join:referrer_id=id"`
	CreatedAt  time.Time `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}
