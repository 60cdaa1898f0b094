package server

import (
	"context"

	"codeberg.org/mutker/powerdash/internal/logger"
)

const broadcastBuffer = 16

// Hub fans encoded states out to WebSocket subscribers. A new subscriber
// receives the latest state immediately.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	latest     []byte
	done       chan struct{}
	log        logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			if h.latest != nil {
				c.send <- h.latest
			}
			h.log.Debug().Int("clients", len(h.clients)).Msg("Stream client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Debug().Int("clients", len(h.clients)).Msg("Stream client unregistered")
			}

		case msg := <-h.broadcast:
			h.latest = msg
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Warn().Msg("Stream client too slow, disconnecting")
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues msg for every subscriber. When the hub falls behind the
// oldest queued message is dropped; the sampler is never blocked.
func (h *Hub) Broadcast(msg []byte) {
	for {
		select {
		case h.broadcast <- msg:
			return
		default:
		}

		select {
		case <-h.broadcast:
		default:
		}
	}
}

func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
