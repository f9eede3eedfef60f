package stream

import (
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesOnlyAccountSubscribers(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe("acc1")
	defer cancelA()
	b, cancelB := hub.Subscribe("acc2")
	defer cancelB()

	hub.Publish(Event{Type: EventMessage, AccountID: "acc1", ConversationID: 7})

	select {
	case ev := <-a:
		assert.Equal(t, EventMessage, ev.Type)
		assert.Equal(t, int64(7), ev.ConversationID)
		assert.NotZero(t, ev.Ts)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-b:
		t.Fatalf("unexpected event for acc2: %+v", ev)
	default:
	}
}

func TestCancelIsIdempotentAndStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("acc1")
	require.Equal(t, 1, hub.SubscriberCount("acc1"))

	cancel()
	cancel()
	assert.Equal(t, 0, hub.SubscriberCount("acc1"))

	hub.Publish(Event{Type: EventMessage, AccountID: "acc1"})
	select {
	case <-ch:
		t.Fatal("received event after cancel")
	default:
	}
}

func TestSlowSubscriberNeverBlocksPublisher(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("acc1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(Event{Type: EventMessage, AccountID: "acc1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestHeartbeatPingsActiveAccounts(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("acc1")
	defer cancel()

	hub.Heartbeat()

	select {
	case ev := <-ch:
		assert.Equal(t, EventPing, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no ping delivered")
	}
}

func TestBusToHubDelivery(t *testing.T) {
	hub := NewHub()
	bus := EventBus.New()
	require.NoError(t, hub.BindBus(bus))

	ch, cancel := hub.Subscribe("acc1")
	defer cancel()

	bus.Publish(BusTopic, Event{Type: EventConnected, AccountID: "acc1"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventConnected, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("bus event did not reach the hub subscriber")
	}
}
