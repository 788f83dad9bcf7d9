// Package stream fans completed audit events out to websocket subscribers.
// Delivery is best effort: a slow subscriber is dropped, never allowed to
// push back on the mutation path.
package stream

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftmark/lendcore/internal/models"
)

// EventMessage is the wire form of a streamed event
type EventMessage struct {
	Type        string    `json:"type"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	UserAddress string    `json:"user_address"`
	MarketID    string    `json:"market_id"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hub tracks connected clients and routes events to market subscriptions
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan *models.Event
	done       chan struct{}
	closeOnce  sync.Once

	clients map[*Client]struct{}
	log     *logrus.Entry
}

// NewHub creates a stream hub
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *models.Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		log:        logrus.WithField("component", "stream"),
	}
}

// Run processes registrations and broadcasts until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.WithField("client", client.id).Debug("client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case ev := <-h.broadcast:
			h.deliver(ev)
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients
func (h *Hub) Stop() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// Publish implements event.Sink. Never blocks: when the buffer is full the
// event is dropped from the stream, the audit log still has it.
func (h *Hub) Publish(ev *models.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.WithField("event_id", ev.EventID).Warn("stream buffer full, event dropped")
	}
}

func (h *Hub) deliver(ev *models.Event) {
	msg := EventMessage{
		Type:        "event",
		EventID:     ev.EventID,
		EventType:   string(ev.Type),
		UserAddress: ev.UserAddress,
		MarketID:    ev.MarketID,
		Amount:      ev.Amount.String(),
		Currency:    ev.Currency,
		Timestamp:   ev.UpdatedAt,
	}
	for client := range h.clients {
		if !client.subscribed(ev.MarketID) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Slow consumer; disconnect rather than buffer unboundedly.
			delete(h.clients, client)
			close(client.send)
		}
	}
}
