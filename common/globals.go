package common

const (
	InvoiceKindPurchase = "purchase"
	InvoiceKindBalance  = "balance"

	TransactionKindPurchase = "purchase"
	TransactionKindTopUp    = "top_up"

	TransactionStatusCreated  = "created"
	TransactionStatusProcess  = "process"
	TransactionStatusPaid     = "paid"
	TransactionStatusPaidOver = "paid_over"
	TransactionStatusFail     = "fail"
	TransactionStatusCancel   = "cancel"
	TransactionStatusRefund   = "refund"

	ChannelCryptomus = "cryptomus"
	ChannelStripe    = "stripe"
	ChannelChain     = "chain"

	ProductKindProxy   = "proxy"
	ProductKindAccount = "account"
	ProductKindSoft    = "soft"
	ProductKindOther   = "other"

	AccountTypeCurrent = "current"
	AccountTypeSeller  = "seller"

	BalanceEntryTopUp            = "top_up"
	BalanceEntrySale             = "sale"
	BalanceEntryReferralWithdraw = "referral_withdraw"

	ReferralEntryAccrual  = "accrual"
	ReferralEntryWithdraw = "withdraw"

	// quoted amounts carry three decimals, one step is 0.001
	QuoteScale = 3
	// balances and referral credits are kept in cents
	MoneyScale = 2

	ScannerCursorOKX = "okx"
)

// IsPaidStatus reports whether a transaction status triggers settlement.
func IsPaidStatus(status string) bool {
	return status == TransactionStatusPaid || status == TransactionStatusPaidOver
}

// pubsub topics
const (
	TopicTransactionSettled = "transaction.settled"
)
