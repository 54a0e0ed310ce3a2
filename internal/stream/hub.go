package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber abstracts a live stream client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans newly ingested records out to every connected subscriber. A
// single goroutine services registration and broadcast, so payloads reach
// subscribers in the order they were published. Late subscribers receive no
// backlog, and a queue that backs up behind slow subscribers sheds its
// oldest payloads instead of stalling publishers.
type Hub struct {
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once
	count     atomic.Int64
}

// NewHub creates a running Hub. buffer bounds the publish queue; a full
// queue sheds its oldest payload so publishers never block on a stalled
// subscriber.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	h := &Hub{
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	clients := make(map[Subscriber]struct{})
	defer func() {
		for c := range clients {
			c.Close()
		}
		h.count.Store(0)
	}()
	for {
		select {
		case sub := <-h.register:
			clients[sub] = struct{}{}
			h.count.Store(int64(len(clients)))
		case sub := <-h.unreg:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				h.count.Store(int64(len(clients)))
			}
		case payload := <-h.broadcast:
			for c := range clients {
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(clients, c)
				}
			}
			h.count.Store(int64(len(clients)))
		case <-h.done:
			return
		}
	}
}

// Register adds a subscriber to the live stream.
func (h *Hub) Register(sub Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
	}
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(sub Subscriber) {
	select {
	case h.unreg <- sub:
	case <-h.done:
	}
}

// Broadcast queues a payload for delivery to all current subscribers. It
// never blocks: when the queue is full the oldest queued payload is shed to
// make room, so ingestion keeps moving even with a wedged subscriber.
func (h *Hub) Broadcast(payload []byte) {
	for {
		select {
		case h.broadcast <- payload:
			return
		case <-h.done:
			return
		default:
		}
		select {
		case <-h.broadcast:
		case <-h.done:
			return
		default:
		}
	}
}

// Count reports the number of connected subscribers.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Close stops the hub and disconnects every subscriber. Safe to call more
// than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
