package app

import (
	"go.uber.org/zap"
)

// Hub maintains the set of active view clients and broadcasts view updates
// to them.
type Hub struct {
	// Registered clients, keyed by the uid they authenticated as.
	clients map[string][]*Client

	// Outbound frames for every client.
	broadcast chan []byte

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// snapshot returns the frame a newly registered client starts from.
	snapshot func() ([]byte, error)

	done chan struct{}
	log  *zap.Logger
}

func NewHub(snapshot func() ([]byte, error), logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		snapshot:   snapshot,
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run serves registrations and broadcasts until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	defer close(h.done)
	for {
		select {
		case <-stop:
			for _, clients := range h.clients {
				for _, c := range clients {
					close(c.send)
				}
			}
			h.clients = map[string][]*Client{}
			return
		case client := <-h.register:
			h.clients[client.id] = append(h.clients[client.id], client)
			frame, err := h.snapshot()
			if err != nil {
				h.log.Error("building view snapshot", zap.Error(err))
				continue
			}
			h.deliver([]*Client{client}, frame)
		case client := <-h.unregister:
			if h.remove(client) {
				close(client.send)
			}
		case frame := <-h.broadcast:
			var all []*Client
			for _, clients := range h.clients {
				all = append(all, clients...)
			}
			h.deliver(all, frame)
		}
	}
}

// Register adds client unless the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues frame for every client.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
}

// deliver drops clients whose buffer is full rather than stall the hub.
func (h *Hub) deliver(clients []*Client, frame []byte) {
	for _, client := range clients {
		select {
		case client.send <- frame:
		default:
			if h.remove(client) {
				close(client.send)
			}
			h.log.Warn("dropping slow view client", zap.String("uid", client.id))
		}
	}
}

func (h *Hub) remove(client *Client) bool {
	clients := h.clients[client.id]
	for i := range clients {
		if clients[i] != client {
			continue
		}
		last := len(clients) - 1
		clients[i] = clients[last]
		clients[last] = nil
		h.clients[client.id] = clients[:last]
		if len(h.clients[client.id]) == 0 {
			delete(h.clients, client.id)
		}
		return true
	}
	return false
}
