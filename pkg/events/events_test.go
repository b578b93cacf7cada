package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerPublishDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventNodeJoined, Message: "node-1 joined"})

	select {
	case evt := <-sub:
		require.Equal(t, EventNodeJoined, evt.Type)
		require.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerFanOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventLeaderElected})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case evt := <-sub:
			require.Equal(t, EventLeaderElected, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out event")
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: EventNodeDown})

	_, ok := <-sub
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBrokerPublishDoesNotBlockAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: EventScaleUp})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after broker stopped")
	}
}
