package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/google/uuid"
)

type Pubsub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan models.SettledTransaction
}

func NewPubsub() *Pubsub {
	ps := &Pubsub{}
	ps.subs = make(map[string]map[string]chan models.SettledTransaction)
	return ps
}

func (ps *Pubsub) Subscribe(topic string, ch chan models.SettledTransaction) (subId string, err error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		ps.subs[topic] = make(map[string]chan models.SettledTransaction)
	}
	subId = uuid.NewString()
	ps.subs[topic][subId] = ch
	return subId, nil
}

func (ps *Pubsub) Unsubscribe(id string, topic string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		return
	}
	if ps.subs[topic][id] == nil {
		return
	}
	close(ps.subs[topic][id])
	delete(ps.subs[topic], id)
}

// Publish hands msg to every subscriber of the topic. A subscriber whose
// channel is full misses the message; Publish reports how many did.
func (ps *Pubsub) Publish(topic string, msg models.SettledTransaction) (dropped int) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.subs[topic] == nil {
		return 0
	}

	for _, ch := range ps.subs[topic] {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

// SubscribeToSettlements hands out a buffered channel of settled transactions
// and the function that releases it.
func (svc *PayhubService) SubscribeToSettlements() (chan models.SettledTransaction, func(), error) {
	ch := make(chan models.SettledTransaction, 64)
	subID, err := svc.SettlementPubSub.Subscribe(common.TopicTransactionSettled, ch)
	if err != nil {
		return nil, nil, err
	}
	return ch, func() { svc.SettlementPubSub.Unsubscribe(subID, common.TopicTransactionSettled) }, nil
}

func (svc *PayhubService) EncodeSettlement(ctx context.Context, w io.Writer, event models.SettledTransaction) error {
	return json.NewEncoder(w).Encode(event)
}
