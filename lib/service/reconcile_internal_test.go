package service

import (
	"testing"

	"github.com/gemups/payhub/db/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amounts(values ...string) []models.Transaction {
	transactions := make([]models.Transaction, len(values))
	for i, value := range values {
		transactions[i].Amount = decimal.RequireFromString(value)
	}
	return transactions
}

func TestDistributeReceivedProportionally(t *testing.T) {
	shares := distributeReceived(decimal.RequireFromString("110"), amounts("30", "70"))
	assert.Equal(t, "33", shares[0].String())
	assert.Equal(t, "77", shares[1].String())
}

func TestDistributeReceivedRemainderOnLast(t *testing.T) {
	shares := distributeReceived(decimal.RequireFromString("31"), amounts("10", "10", "10"))
	assert.Equal(t, "10.333", shares[0].String())
	assert.Equal(t, "10.333", shares[1].String())
	assert.Equal(t, "10.334", shares[2].String())
}

func TestDistributeReceivedSingleTransaction(t *testing.T) {
	shares := distributeReceived(decimal.RequireFromString("10.050"), amounts("10.001"))
	assert.True(t, decimal.RequireFromString("10.05").Equal(shares[0]))
}

func TestPubsubDropsForFullSubscribers(t *testing.T) {
	ps := NewPubsub()
	fast := make(chan models.SettledTransaction, 1)
	slow := make(chan models.SettledTransaction)
	_, err := ps.Subscribe("topic", fast)
	assert.NoError(t, err)
	slowID, err := ps.Subscribe("topic", slow)
	assert.NoError(t, err)

	dropped := ps.Publish("topic", models.SettledTransaction{TransactionID: "t1"})
	assert.Equal(t, 1, dropped)
	assert.Equal(t, "t1", (<-fast).TransactionID)

	ps.Unsubscribe(slowID, "topic")
	_, open := <-slow
	assert.False(t, open)
	assert.Equal(t, 0, ps.Publish("other", models.SettledTransaction{}))
}

func TestParseCryptomusPaidOverIgnoresCryptoAmount(t *testing.T) {
	tr, err := parseCryptomus([]byte(`{"order_id":"ref-1","status":"paid_over","payment_amount":"0.0042"}`))
	assert.NoError(t, err)
	assert.Equal(t, "ref-1", tr.Reference)
	assert.Nil(t, tr.Received)

	tr, err = parseCryptomus([]byte(`{"order_id":"ref-1","status":"paid_over","payment_amount":"0.0042","payment_amount_usd":"12.5"}`))
	assert.NoError(t, err)
	if assert.NotNil(t, tr.Received) {
		assert.Equal(t, "12.5", tr.Received.String())
	}
}
