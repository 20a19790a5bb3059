package bridge

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHubClosed is returned by Emit after Close.
var ErrHubClosed = errors.New("bridge: hub closed")

const (
	defaultBuffer      = 256
	defaultSendTimeout = 2 * time.Second
)

// Message is one named UI event.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type subscriber struct {
	id string
	ch chan Message
}

// Hub fans UI events out to every connected client. It implements
// relay.Sink. Each subscriber receives events in emission order.
type Hub struct {
	mu          sync.RWMutex
	subs        map[string]*subscriber
	closed      bool
	buffer      int
	sendTimeout time.Duration
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs:        make(map[string]*subscriber),
		buffer:      defaultBuffer,
		sendTimeout: defaultSendTimeout,
	}
}

// Subscribe registers a new client. The returned cancel func is safe to
// call more than once; it closes the channel.
func (h *Hub) Subscribe() (string, <-chan Message, func()) {
	sub := &subscriber{
		id: uuid.New().String(),
		ch: make(chan Message, h.buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.id, sub.ch, func() {}
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub.id]; ok {
				delete(h.subs, sub.id)
				close(sub.ch)
			}
		})
	}
	return sub.id, sub.ch, cancel
}

// Emit delivers an event to all subscribers. A subscriber still full
// after the send timeout misses an ordinary event; for a terminal
// "-done" event it is disconnected instead, so its client reconnects
// rather than waiting on an operation that already ended.
func (h *Hub) Emit(name string, payload any) error {
	msg := Message{Event: name, Data: payload}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}

	var stuck []*subscriber
	for _, sub := range h.subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		timer := time.NewTimer(h.sendTimeout)
		select {
		case sub.ch <- msg:
		case <-timer.C:
			if isTerminal(name) {
				stuck = append(stuck, sub)
			} else {
				log.Printf("bridge: subscriber %s full, dropped %s", sub.id, name)
			}
		}
		timer.Stop()
	}
	h.mu.RUnlock()

	if len(stuck) > 0 {
		h.evict(stuck, name)
	}
	return nil
}

func (h *Hub) evict(stuck []*subscriber, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range stuck {
		if _, ok := h.subs[sub.id]; !ok {
			continue
		}
		delete(h.subs, sub.id)
		close(sub.ch)
		log.Printf("bridge: subscriber %s full at %s, disconnected", sub.id, name)
	}
}

func isTerminal(name string) bool {
	return strings.HasSuffix(name, "-done")
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later Emits fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
