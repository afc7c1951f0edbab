// Package hub fans change events out to every live subscriber
// connection. Each subscriber owns a buffered channel; a subscriber that
// cannot keep up is dropped without affecting delivery to the others.
package hub

import (
	"clipd/internal/protocol"
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendBuffer = 256

// Subscriber is one live connection registered with the hub. Messages
// arrive pre-marshalled on C; the channel is closed when the subscriber
// is dropped or unregistered.
type Subscriber struct {
	ID   string
	send chan []byte
}

// C is the subscriber's receive channel.
func (s *Subscriber) C() <-chan []byte { return s.send }

// Hub maintains the current subscriber set. All set mutations and
// fan-out happen on the Run loop, so no shared collection is iterated
// from multiple goroutines.
type Hub struct {
	log         *zap.SugaredLogger
	subscribers map[*Subscriber]bool
	register    chan *Subscriber
	unregister  chan *Subscriber
	broadcast   chan []byte
	count       chan chan int
	done        chan struct{}
}

func New(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:         log,
		subscribers: make(map[*Subscriber]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan []byte, 64),
		count:       make(chan chan int),
		done:        make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for sub := range h.subscribers {
				close(sub.send)
				delete(h.subscribers, sub)
			}
			close(h.done)
			return

		case sub := <-h.register:
			h.subscribers[sub] = true
			h.log.Infow("subscriber connected", "id", sub.ID, "total", len(h.subscribers))

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.log.Infow("subscriber disconnected", "id", sub.ID, "total", len(h.subscribers))

		case message := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub.send <- message:
				default:
					// Subscriber is not draining its channel; drop it
					// rather than block delivery to the rest.
					close(sub.send)
					delete(h.subscribers, sub)
					h.log.Warnw("dropped slow subscriber", "id", sub.ID)
				}
			}

		case reply := <-h.count:
			reply <- len(h.subscribers)
		}
	}
}

// Register adds a new subscriber and returns it.
func (h *Hub) Register() *Subscriber {
	sub := &Subscriber{
		ID:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
	h.register <- sub
	return sub
}

// Unregister removes a subscriber. Safe to call more than once and after
// the subscriber has already been dropped.
func (h *Hub) Unregister(sub *Subscriber) {
	h.unregister <- sub
}

// Broadcast delivers the event to every current subscriber. Marshal
// errors are logged and the event is skipped; a broadcast never returns
// an error to its caller.
func (h *Hub) Broadcast(event *protocol.Response) {
	message, err := json.Marshal(event)
	if err != nil {
		h.log.Errorw("failed to marshal broadcast event", "type", event.Type, "error", err)
		return
	}
	h.broadcast <- message
}

// Count reports the current number of subscribers. After the Run loop
// has exited it reports zero instead of blocking.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
