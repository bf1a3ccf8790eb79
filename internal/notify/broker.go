package notify

import (
	"sync"
)

const (
	EventLowCredit    = "low_credit_warning"
	EventCreditUpdate = "credit_update"
)

// Event is one notification raised by the credit ledger, addressed to a
// single user. Payload is whatever the websocket layer serializes to the
// client.
type Event struct {
	Type    string                 `json:"type"`
	UserID  string                 `json:"user_id"`
	Payload map[string]interface{} `json:"payload"`
}

// Broker is an in-process pub/sub hub between the ledger and the websocket
// layer. Publish never blocks: a subscriber that is not draining its channel
// misses events rather than stalling a debit.
type Broker struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel of events addressed to userID.
func (b *Broker) Subscribe(userID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 8)
	b.subscribers[userID] = append(b.subscribers[userID], ch)
	return ch
}

func (b *Broker) Unsubscribe(userID string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans := b.subscribers[userID]
	for i, c := range chans {
		if c == ch {
			b.subscribers[userID] = append(chans[:i], chans[i+1:]...)
			close(c)
			break
		}
	}
	if len(b.subscribers[userID]) == 0 {
		delete(b.subscribers, userID)
	}
}

func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}
