package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

const (
	EventChanged = "changed"
	EventCounts  = "counts"
	EventReady   = "ready"
)

type Event struct {
	ID   string
	Name string
	Data []byte
}

// NewEvent stamps a fresh ULID on a JSON payload.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", name, err)
	}
	return Event{ID: ulid.Make().String(), Name: name, Data: data}, nil
}

// Format renders the event in text/event-stream framing.
func (e Event) Format() []byte {
	var buf bytes.Buffer
	if e.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", e.ID)
	}
	if e.Name != "" {
		fmt.Fprintf(&buf, "event: %s\n", e.Name)
	}
	data := e.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

func (h *Hub) Subscribe(address string) (<-chan Event, func()) {
	ch := make(chan Event, 8)
	h.mu.Lock()
	if _, ok := h.subs[address]; !ok {
		h.subs[address] = make(map[chan Event]struct{})
	}
	h.subs[address][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[address]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, address)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers event to every subscriber of the given addresses. Full
// subscriber buffers drop the event.
func (h *Hub) Broadcast(addresses []string, event Event) {
	if len(addresses) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, address := range addresses {
		if address == "" {
			continue
		}
		unique[address] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for address := range unique {
		for ch := range h.subs[address] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

func (h *Hub) Subscribers(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[address])
}
