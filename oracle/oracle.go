package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("price unavailable")

// PriceSource returns the USDT price of one unit of a currency.
type PriceSource interface {
	Price(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Oracle converts USD amounts into quote currency amounts. Stable currencies
// are quoted 1:1 without asking the price source.
type Oracle struct {
	source PriceSource
	stable map[string]bool
}

func New(source PriceSource, stableCurrencies []string) *Oracle {
	stable := map[string]bool{}
	for _, currency := range stableCurrencies {
		stable[strings.ToUpper(currency)] = true
	}
	return &Oracle{source: source, stable: stable}
}

func (o *Oracle) Quote(ctx context.Context, currency string, usdAmount decimal.Decimal) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if o.stable[currency] {
		return usdAmount, nil
	}
	price, err := o.source.Price(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non positive price %s for %s", ErrUnavailable, price, currency)
	}
	return usdAmount.Div(price), nil
}
