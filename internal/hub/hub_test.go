package hub

import (
	"clipd/internal/protocol"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, cancel
}

func receive(t *testing.T, sub *Subscriber) *protocol.Response {
	t.Helper()
	select {
	case message, ok := <-sub.C():
		require.True(t, ok, "subscriber channel closed unexpectedly")
		var resp protocol.Response
		require.NoError(t, json.Unmarshal(message, &resp))
		return &resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	h, cancel := newTestHub(t)
	defer cancel()

	a := h.Register()
	b := h.Register()
	defer h.Unregister(a)
	defer h.Unregister(b)

	h.Broadcast(&protocol.Response{Type: protocol.TypeItemDeleted, ID: 42})

	for _, sub := range []*Subscriber{a, b} {
		resp := receive(t, sub)
		assert.Equal(t, protocol.TypeItemDeleted, resp.Type)
		assert.Equal(t, int64(42), resp.ID)
	}
}

func TestHub_DeliveryUnaffectedByUnregisteredSubscriber(t *testing.T) {
	h, cancel := newTestHub(t)
	defer cancel()

	gone := h.Register()
	alive := h.Register()
	defer h.Unregister(alive)

	h.Unregister(gone)

	h.Broadcast(&protocol.Response{Type: protocol.TypeItemDeleted, ID: 7})
	resp := receive(t, alive)
	assert.Equal(t, int64(7), resp.ID)

	// The departed subscriber's channel is closed, not fed.
	select {
	case _, ok := <-gone.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected closed channel for unregistered subscriber")
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	h, cancel := newTestHub(t)
	defer cancel()

	sub := h.Register()
	h.Unregister(sub)
	h.Unregister(sub) // second call must not panic or block

	assert.Equal(t, 0, h.Count())
}

func TestHub_CountAfterShutdown(t *testing.T) {
	h := New(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()

	sub := h.Register()
	assert.Equal(t, 1, h.Count())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit")
	}

	// A status request racing shutdown must not hang on the stopped loop.
	assert.Equal(t, 0, h.Count())

	// Subscriber channels are closed when the loop exits.
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	h, cancel := newTestHub(t)
	defer cancel()

	slow := h.Register()
	healthy := h.Register()
	defer h.Unregister(healthy)

	// Drain the healthy subscriber continuously; leave the slow one alone.
	received := make(chan int64, 2*sendBuffer)
	go func() {
		for message := range healthy.C() {
			var resp protocol.Response
			if json.Unmarshal(message, &resp) == nil {
				received <- resp.ID
			}
		}
	}()

	total := sendBuffer + 1
	for i := 0; i < total; i++ {
		h.Broadcast(&protocol.Response{Type: protocol.TypeItemDeleted, ID: int64(i)})
	}

	// The healthy subscriber receives every event in order.
	for i := 0; i < total; i++ {
		select {
		case id := <-received:
			assert.Equal(t, int64(i), id)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	// The slow one was dropped once its buffer overflowed.
	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	_ = slow
}
