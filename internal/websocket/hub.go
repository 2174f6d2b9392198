package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/logging"
)

// Hub maintains the set of active clients per channel and broadcasts messages.
// A channel is a role name: a department or "admin".
type Hub struct {
	// Registered clients: channel -> set of clients
	clients map[string]map[*Client]struct{}

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	log *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]struct{}),
		log:        logging.OrNop(log).Named("ws_hub"),
	}
}

// Run starts the hub's main loop and closes every client when ctx ends.
// Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for channel, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, channel)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// join hands client to the running loop. It reports false once the hub has
// stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave hands client back to the running loop, if any.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.Channel]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.Channel] = set
	}
	set[client] = struct{}{}
	h.log.Info("listener connected", zap.String("channel", client.Channel), zap.String("user_id", client.UserID))
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.Channel]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.Channel)
	}
	h.log.Info("listener disconnected", zap.String("channel", client.Channel), zap.String("user_id", client.UserID))
}

// Broadcast queues message for every client of channel and returns how many
// clients accepted it. Clients with a full buffer miss the message.
func (h *Hub) Broadcast(channel string, message any) int {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		h.log.Warn("marshal broadcast", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.clients[channel] {
		select {
		case client.send <- jsonMsg:
			delivered++
		default:
			// Buffer full or client dead
			h.log.Warn("dropping message for slow listener", zap.String("channel", channel), zap.String("user_id", client.UserID))
		}
	}
	return delivered
}

// ClientCount returns the number of clients listening on channel.
func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}
