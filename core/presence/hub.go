package presence

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned by Subscribe. The zero value is never registered.
type Subscription struct {
	id     uint64
	userID UserID
}

func (s Subscription) UserID() UserID { return s.userID }

type subscriber struct {
	listener Listener
	active   atomic.Bool
}

// Hub delivers status changes to the listeners registered for each user.
//
// Listeners are invoked on the publishing goroutine and so must not block. A listener which panics is
// logged and skipped without affecting delivery to other listeners. Once Unsubscribe returns, publishes
// which start afterwards will never reach that listener.
type Hub struct {
	subscribers map[UserID]map[uint64]*subscriber
	nextID      uint64
	mutex       sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[UserID]map[uint64]*subscriber)}
}

// Subscribe registers a listener for changes to the given user's status
func (h *Hub) Subscribe(userID UserID, listener Listener) Subscription {
	sub := &subscriber{listener: listener}
	sub.active.Store(true)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.nextID++
	id := h.nextID

	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[uint64]*subscriber)
	}
	h.subscribers[userID][id] = sub

	return Subscription{id: id, userID: userID}
}

// Unsubscribe removes a listener. It's safe to call more than once or with a handle that was never registered.
func (h *Hub) Unsubscribe(s Subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	subs := h.subscribers[s.userID]
	sub := subs[s.id]
	if sub == nil {
		return
	}

	sub.active.Store(false)
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(h.subscribers, s.userID)
	}
}

// Publish invokes every listener currently registered for the given user
func (h *Hub) Publish(userID UserID, status Status) {
	h.mutex.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers[userID]))
	for _, sub := range h.subscribers[userID] {
		subs = append(subs, sub)
	}
	h.mutex.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			if err := invoke(sub.listener, userID, status); err != nil {
				slog.With("comp", "hub").Error("listener failed", "user_id", userID, "status", status, "error", err)
			}
		}
	}
}

// Count returns the number of listeners registered for the given user
func (h *Hub) Count(userID UserID) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.subscribers[userID])
}

func invoke(l Listener, userID UserID, status Status) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()

	l(userID, status)
	return nil
}
