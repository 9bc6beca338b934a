package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
)

func TestTransactionIsSettled(t *testing.T) {
	transactions := []Transaction{{}, {SettledAt: bun.NullTime{Time: time.Now()}}}
	assert.False(t, transactions[0].IsSettled())
	assert.True(t, transactions[1].IsSettled())

	stored := func() Transaction { return transactions[1] }
	assert.True(t, stored().IsSettled())
}
