package service

import "errors"

var (
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrNotFound              = errors.New("not found")
	ErrAlreadySettled        = errors.New("already settled")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrOracleUnavailable     = errors.New("price oracle unavailable")
	ErrProviderUnavailable   = errors.New("wallet history provider unavailable")

	ErrUnsupportedCurrency  = errors.New("unsupported currency or network")
	ErrTooManyOpenInvoices  = errors.New("too many open invoices")
	ErrInvoiceNotSelectable = errors.New("invoice currency can not be changed")
	ErrNothingToWithdraw    = errors.New("nothing to withdraw")
	ErrUnknownStatus        = errors.New("unknown payment status")
)
