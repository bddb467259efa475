package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/nimasrn/crm-inbox/pkg/logger"
)

const DefaultSubscriberBuffer = 64

// Subscription is one connected agent stream.
type Subscription struct {
	ID        string
	AccountID string
	C         <-chan []byte

	ch      chan []byte
	dropped int
}

// Hub keeps in-process subscribers grouped by business account. A slow
// subscriber loses events instead of stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Subscription
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{groups: make(map[string]map[string]*Subscription), buffer: buffer}
}

func (h *Hub) Subscribe(accountID string) *Subscription {
	ch := make(chan []byte, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), AccountID: accountID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[accountID]
	if !ok {
		g = make(map[string]*Subscription)
		h.groups[accountID] = g
	}
	g[sub.ID] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[sub.AccountID]
	if !ok {
		return
	}
	if _, ok := g[sub.ID]; !ok {
		return
	}
	delete(g, sub.ID)
	close(sub.ch)
	if len(g) == 0 {
		delete(h.groups, sub.AccountID)
	}
}

// Subscribers reports how many streams watch the account.
func (h *Hub) Subscribers(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[accountID])
}

func (h *Hub) Name() string { return "hub" }

// Publish delivers to local subscribers of the account.
func (h *Hub) Publish(_ context.Context, accountID string, payload []byte) error {
	h.Broadcast(accountID, payload)
	return nil
}

func (h *Hub) Broadcast(accountID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.groups[accountID] {
		select {
		case sub.ch <- payload:
		default:
			sub.dropped++
			logger.Warn("fanout: subscriber buffer full, event dropped", "subscriber", sub.ID, "account", accountID, "dropped", sub.dropped)
		}
	}
}
