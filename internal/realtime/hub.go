package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/classboard/classboard-api/internal/models"
)

const subscriptionBuffer = 16

// Subscription is one recipient's live notification feed.
type Subscription struct {
	userID string
	ch     chan models.Notification
	hub    *Hub
	once   sync.Once
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan models.Notification {
	return s.ch
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub is an in-process registry of notification subscribers keyed by
// recipient. Delivery is best-effort: rows are durable in the store, so a
// subscriber that falls behind or reconnects simply re-lists its inbox.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
	logger *zap.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), logger: logger}
}

// Subscribe registers a live feed for the given recipient.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{userID: userID, ch: make(chan models.Notification, subscriptionBuffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

// Publish delivers a notification to every live subscription of its
// recipient. Never blocks; a full subscriber buffer drops the event.
func (h *Hub) Publish(notification models.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs[notification.UserID] {
		select {
		case sub.ch <- notification:
		default:
			h.logger.Debug("dropping realtime notification, subscriber buffer full",
				zap.String("user_id", notification.UserID),
				zap.String("notification_id", notification.ID))
		}
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	set := h.subs[sub.userID]
	if set == nil {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
	close(sub.ch)
}
