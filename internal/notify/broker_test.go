package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToUserSubscribers(t *testing.T) {
	b := NewBroker()

	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")
	defer b.Unsubscribe("alice", alice)
	defer b.Unsubscribe("bob", bob)

	b.Publish(Event{Type: EventCreditUpdate, UserID: "alice", Payload: map[string]interface{}{"remaining_credits": 4.2}})

	select {
	case event := <-alice:
		assert.Equal(t, EventCreditUpdate, event.Type)
	default:
		t.Fatal("expected event for alice")
	}

	select {
	case <-bob:
		t.Fatal("bob must not receive alice's events")
	default:
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("slow")
	defer b.Unsubscribe("slow", ch)

	// Publishing past the buffer must not block.
	for i := 0; i < 20; i++ {
		b.Publish(Event{Type: EventLowCredit, UserID: "slow"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Greater(t, received, 0)
	assert.LessOrEqual(t, received, 8)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("u")
	b.Unsubscribe("u", ch)

	_, open := <-ch
	require.False(t, open)

	// Publishing to a user with no subscribers is a no-op.
	b.Publish(Event{Type: EventCreditUpdate, UserID: "u"})
}
