// Package broadcast fans task lifecycle events out to observers. The
// hub keeps per-task subscriber sets; delivery is best effort and never
// blocks a publisher on a slow observer.
package broadcast

import (
	"sync"
)

// Event is the payload observers receive. Field names match the wire
// format subscribers see over the WebSocket surface.
type Event struct {
	Type   string `json:"type,omitempty"`
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Agent  string `json:"agent_name,omitempty"`
	Action string `json:"action,omitempty"`
}

// Connected returns the confirmation event a new subscriber receives.
func Connected(taskID string) Event {
	return Event{Type: "connected", TaskID: taskID}
}

const subscriberBuffer = 16

// Hub routes events to the observers of each task.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers an observer for a task and returns its event
// channel plus an unsubscribe func. The channel is buffered; events
// that arrive while it is full are dropped for that observer.
func (h *Hub) Subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[taskID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[taskID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, taskID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Broadcast delivers ev to every observer of its task. Sends are
// non-blocking and happen under the lock so an unsubscribe cannot
// close a channel mid-delivery.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports how many observers a task currently has.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}
