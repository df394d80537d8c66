package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/classboard-api/internal/models"
)

func TestHubDeliversToRecipientOnly(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	alice := hub.Subscribe("alice")
	bob := hub.Subscribe("bob")
	defer alice.Close()
	defer bob.Close()

	hub.Publish(models.Notification{ID: "n1", UserID: "alice", Title: "hello"})

	select {
	case n := <-alice.C():
		assert.Equal(t, "n1", n.ID)
	case <-time.After(time.Second):
		t.Fatal("alice did not receive notification")
	}

	select {
	case n := <-bob.C():
		t.Fatalf("bob received %s addressed to alice", n.ID)
	default:
	}
}

func TestHubMultipleSubscriptionsPerUser(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	first := hub.Subscribe("alice")
	second := hub.Subscribe("alice")
	defer first.Close()
	defer second.Close()

	hub.Publish(models.Notification{ID: "n1", UserID: "alice"})

	for _, sub := range []*Subscription{first, second} {
		select {
		case n := <-sub.C():
			assert.Equal(t, "n1", n.ID)
		case <-time.After(time.Second):
			t.Fatal("subscription missed notification")
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	sub := hub.Subscribe("alice")
	sub.Close()

	_, open := <-sub.C()
	require.False(t, open)

	// publishing after close must not panic
	hub.Publish(models.Notification{ID: "n1", UserID: "alice"})
}

func TestHubFullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	sub := hub.Subscribe("alice")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*2; i++ {
			hub.Publish(models.Notification{ID: "n", UserID: "alice"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("alice")

	hub.Close()

	_, open := <-sub.C()
	assert.False(t, open)

	// double close is safe
	sub.Close()
	hub.Close()
}
