// Package stream fans per-account domain events out to live viewers. One
// broadcast channel per account, any number of subscribers, best-effort
// at-most-once delivery: a slow or absent viewer never blocks a publisher.
package stream

import (
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
)

const (
	EventConnected  = "connected"
	EventMessage    = "message"
	EventQRRequired = "qr_required"
	EventPing       = "ping"

	// BusTopic is the EventBus topic the core publishes on; the hub routes
	// bus events into per-account broadcast channels.
	BusTopic = "wa:events"
)

type Event struct {
	Type           string `json:"type"`
	AccountID      string `json:"-"`
	ConversationID int64  `json:"conversation_id,string,omitempty"`
	MessageID      int64  `json:"message_id,string,omitempty"`
	Direction      string `json:"direction,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Ts             int64  `json:"ts"`
}

const subscriberBuffer = 16

type subscriber struct {
	ch chan Event
}

type Hub struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string]map[int64]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]*subscriber)}
}

// BindBus routes events published on the bus into the hub.
func (h *Hub) BindBus(bus EventBus.Bus) error {
	return bus.Subscribe(BusTopic, func(ev Event) {
		h.Publish(ev)
	})
}

// Subscribe registers a viewer for an account. The returned cancel function
// is idempotent and must be called when the viewer goes away; publishing
// after cancel is safe.
func (h *Hub) Subscribe(accountID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	m := h.subs[accountID]
	if m == nil {
		m = make(map[int64]*subscriber)
		h.subs[accountID] = m
	}
	m[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if m := h.subs[accountID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, accountID)
				}
			}
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every current subscriber of its account. Viewers
// that joined later do not see it; viewers with a full buffer drop it.
func (h *Hub) Publish(ev Event) {
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[ev.AccountID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Heartbeat pushes a ping to every account that currently has viewers. It
// runs on a scheduler independent of business events so long-lived streams
// stay warm regardless of traffic.
func (h *Hub) Heartbeat() {
	now := time.Now().UnixMilli()
	h.mu.RLock()
	accounts := make([]string, 0, len(h.subs))
	for accountID := range h.subs {
		accounts = append(accounts, accountID)
	}
	h.mu.RUnlock()
	for _, accountID := range accounts {
		h.Publish(Event{Type: EventPing, AccountID: accountID, Ts: now})
	}
}

// SubscriberCount reports live viewers for an account.
func (h *Hub) SubscriberCount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}
