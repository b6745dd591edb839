package interactions

import (
	"sync"

	"chatkit/pkg/logger"
	"chatkit/pkg/models"
)

// ChangeType tags a thread change notification.
type ChangeType string

const (
	ChangeAppended      ChangeType = "appended"
	ChangeUpdated       ChangeType = "updated"
	ChangeRemoved       ChangeType = "removed"
	ChangeThreadDeleted ChangeType = "thread_deleted"
)

// Change is a single notification delivered to thread observers.
type Change struct {
	Type        ChangeType          `json:"type"`
	Thread      string              `json:"thread"`
	Interaction *models.Interaction `json:"interaction,omitempty"`
}

const subscriberBuffer = 128

// Hub fans out per-thread change notifications to live observers. Each
// subscriber owns a buffered channel; a subscriber that falls behind has
// notifications dropped rather than blocking writers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Change
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Change)}
}

// Subscribe returns a live change stream for the thread plus a cancel
// function. The stream is closed on cancel or thread deletion.
func (h *Hub) Subscribe(threadID string) (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Change, subscriberBuffer)
	if h.subs[threadID] == nil {
		h.subs[threadID] = make(map[int]chan Change)
	}
	h.subs[threadID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subs[threadID]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, threadID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers a change to every observer of the thread without
// blocking the writer.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[c.Thread] {
		select {
		case ch <- c:
		default:
			droppedNotifies.Inc()
			logger.Warn("observer_notify_dropped", "thread", c.Thread, "type", string(c.Type))
		}
	}
}

// DropThread closes all observer streams for a deleted thread after
// delivering a final thread_deleted notification where buffers allow.
func (h *Hub) DropThread(threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[threadID] {
		select {
		case ch <- Change{Type: ChangeThreadDeleted, Thread: threadID}:
		default:
		}
		close(ch)
	}
	delete(h.subs, threadID)
}
