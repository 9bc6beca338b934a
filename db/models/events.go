package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FulfillmentRequest asks the fulfillment subsystem to provision a paid purchase.
type FulfillmentRequest struct {
	TransactionID string    `json:"transaction_id"`
	ProductID     int64     `json:"product_id"`
	ProductKind   string    `json:"product_kind"`
	PayerID       int64     `json:"payer_id"`
	Quantity      int64     `json:"quantity"`
	RequestedAt   time.Time `json:"requested_at"`
}

// SettledTransaction is published once the financial effects of a transaction are applied.
type SettledTransaction struct {
	TransactionID string          `json:"transaction_id"`
	InvoiceID     int64           `json:"invoice_id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	Channel       string          `json:"channel"`
	Amount        decimal.Decimal `json:"amount"`
	PayerID       int64           `json:"payer_id"`
	PayeeID       int64           `json:"payee_id,omitempty"`
	SellerCredit  decimal.Decimal `json:"seller_credit"`
	Dispensed     int64           `json:"dispensed"`
	Shortfall     int64           `json:"shortfall"`
	SettledAt     time.Time       `json:"settled_at"`
}

// ChainTransfer is an on-chain transfer reported by an external watcher.
type ChainTransfer struct {
	TxHash       string          `json:"tx_hash" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Ticker       string          `json:"ticker" validate:"required"`
	Network      string          `json:"network" validate:"required"`
	Decimal      int32           `json:"decimal"`
	ToAddress    string          `json:"to_address"`
	FromAddress  string          `json:"from_address"`
	TokenAddress string          `json:"token_address"`
	Timestamp    int64           `json:"timestamp"`
}
