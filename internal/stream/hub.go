// Package stream fans committed events out to WebSocket observers.
//
// One Hub goroutine owns the client set and the backlog window, so a newly
// registered client gets exactly the events committed before it joined
// (in the initial message) and every event committed after.
package stream

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/logging"
	"example.com/agentwatch/internal/metrics"
)

const (
	MessageTypeInitial      = "initial"
	MessageTypeEvent        = "event"
	MessageTypeEventUpdated = "event_updated"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

const sendBufferSize = 256

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once

	backlog    []domain.Event
	backlogMax int

	nextID atomic.Uint64
	mu     sync.RWMutex
	log    *zerolog.Logger
}

func NewHub(backlogMax int) *Hub {
	if backlogMax <= 0 {
		backlogMax = 300
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, sendBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		backlogMax: backlogMax,
		log:        logging.For("stream"),
	}
}

// Seed loads the backlog window. Call it before Run.
func (h *Hub) Seed(events []domain.Event) {
	for _, ev := range events {
		h.remember(ev)
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeOnce.Do(func() { close(h.done) })
	for {
		// Lifecycle first, so a client unregistered before a broadcast
		// is not sent to.
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case m := <-h.broadcast:
			h.apply(m)
			h.broadcastToClients(m)
		}
	}
}

// EventInserted queues ev for every observer. It blocks only while the
// broadcast buffer is full; observers never slow it down.
func (h *Hub) EventInserted(ev domain.Event) {
	h.publish(Message{Type: MessageTypeEvent, Data: ev})
}

func (h *Hub) EventUpdated(ev domain.Event) {
	h.publish(Message{Type: MessageTypeEventUpdated, Data: ev})
}

func (h *Hub) publish(m Message) {
	select {
	case h.broadcast <- m:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	initial := make([]domain.Event, len(h.backlog))
	copy(initial, h.backlog)
	c.send <- Message{Type: MessageTypeInitial, Data: initial}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.StreamClients.Set(float64(n))
	h.log.Info().Uint64("client_id", c.id).Int("total_clients", n).Int("backlog", len(initial)).Msg("observer connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.StreamClients.Set(float64(n))
	h.log.Info().Uint64("client_id", c.id).Int("total_clients", n).Msg("observer disconnected")
}

func (h *Hub) apply(m Message) {
	ev, ok := m.Data.(domain.Event)
	if !ok {
		return
	}
	switch m.Type {
	case MessageTypeEvent:
		h.remember(ev)
	case MessageTypeEventUpdated:
		for i := range h.backlog {
			if h.backlog[i].ID == ev.ID {
				h.backlog[i] = ev
				return
			}
		}
	}
}

// remember inserts ev into the backlog, keeping it sorted by (timestamp,
// id) and no longer than backlogMax.
func (h *Hub) remember(ev domain.Event) {
	i := sort.Search(len(h.backlog), func(i int) bool {
		return domain.SortKeyLess(ev, h.backlog[i])
	})
	if len(h.backlog) >= h.backlogMax && i == 0 {
		return
	}
	h.backlog = append(h.backlog, domain.Event{})
	copy(h.backlog[i+1:], h.backlog[i:])
	h.backlog[i] = ev
	if over := len(h.backlog) - h.backlogMax; over > 0 {
		h.backlog = h.backlog[over:]
	}
}

func (h *Hub) broadcastToClients(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- m:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
		metrics.StreamDropped.Inc()
		h.log.Warn().Uint64("client_id", c.id).Msg("observer too slow, disconnecting")
	}
	metrics.StreamMessages.WithLabelValues(m.Type).Inc()
	if len(slow) > 0 {
		metrics.StreamClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.StreamClients.Set(0)
	h.log.Info().Int("clients_closed", n).Msg("stream hub stopped")
}
