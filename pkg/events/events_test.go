package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(Event{Type: DeploymentSuccess, PlanID: "p1"})

	select {
	case e := <-sub:
		assert.Equal(t, DeploymentSuccess, e.Type)
		assert.Equal(t, "p1", e.PlanID)
		assert.False(t, e.Timestamp.IsZero(), "Publish stamps a zero Timestamp")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusFanOutToMultipleSubscribers(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(Event{Type: GroupChangeSuccess})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case e := <-sub:
			assert.Equal(t, GroupChangeSuccess, e.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "unsubscribe closes the channel")
}

func TestBusPublishDropsOnFullSubscriberBuffer(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < cap(sub)+16; i++ {
		b.Publish(Event{Type: StatusUpdateEvent})
	}

	// Give the dispatch loop a moment to drain eventCh into subscribers;
	// the buffered subscriber channel caps at its capacity regardless of
	// how many more events were published (at-most-once, no blocking).
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(sub), cap(sub))
}
