package service

import (
	"time"

	"github.com/gemups/payhub/common"
	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"
)

// zeroTime lifts the upper bound of ReferralTotal
var zeroTime time.Time

func (svc *PayhubService) captureErr(err error) {
	sentry.CaptureException(err)
}

func roundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(common.MoneyScale)
}

func quoteStep() decimal.Decimal {
	return decimal.New(1, -common.QuoteScale)
}
