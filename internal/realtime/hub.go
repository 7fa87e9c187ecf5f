// Package realtime tracks live change-feed subscriptions per user. The
// session manager tears them down on sign-out and re-arms them after a token
// refresh.
package realtime

import (
	"errors"
	"strings"
	"sync"
)

const DefaultSubscriberBuffer = 16

const (
	SignalClosed    = "closed"
	SignalRefreshed = "refreshed"
)

// Signal is delivered to subscribers when their connection state changes.
type Signal struct {
	Kind  string `json:"kind"`
	Token string `json:"-"`
}

type Hub struct {
	mu               sync.RWMutex
	users            map[string]*userStreams
	subscriberBuffer int
}

type userStreams struct {
	mu     sync.Mutex
	subs   map[uint64]chan Signal
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID string
	id     uint64
	ch     chan Signal
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		users:            make(map[string]*userStreams),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Subscribe registers a live subscription for the user.
func (h *Hub) Subscribe(userID string) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("hub_unavailable")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, errors.New("invalid_user_id")
	}

	streams := h.ensureStreams(id)
	streams.mu.Lock()
	if streams.subs == nil {
		streams.subs = make(map[uint64]chan Signal)
	}
	subID := streams.nextID
	streams.nextID++
	ch := make(chan Signal, h.subscriberBuffer)
	streams.subs[subID] = ch
	streams.mu.Unlock()

	return &Subscription{hub: h, userID: id, id: subID, ch: ch}, nil
}

// UnsubscribeAll drops every subscription the user holds, signalling each
// subscriber before its channel closes.
func (h *Hub) UnsubscribeAll(userID string) {
	if h == nil {
		return
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return
	}

	h.mu.Lock()
	streams := h.users[id]
	delete(h.users, id)
	h.mu.Unlock()
	if streams == nil {
		return
	}

	streams.mu.Lock()
	subs := streams.subs
	streams.subs = nil
	streams.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- Signal{Kind: SignalClosed}:
		default:
		}
		close(ch)
	}
}

// RefreshAllConnections re-arms every live subscription with the refreshed
// token. Subscribers with full buffers miss the signal rather than block.
func (h *Hub) RefreshAllConnections(token string) {
	if h == nil {
		return
	}

	h.mu.RLock()
	all := make([]*userStreams, 0, len(h.users))
	for _, streams := range h.users {
		all = append(all, streams)
	}
	h.mu.RUnlock()

	for _, streams := range all {
		streams.mu.Lock()
		subs := make([]chan Signal, 0, len(streams.subs))
		for _, ch := range streams.subs {
			subs = append(subs, ch)
		}
		streams.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- Signal{Kind: SignalRefreshed, Token: token}:
			default:
			}
		}
	}
}

// ActiveSubscriptions reports how many live subscriptions the user holds.
func (h *Hub) ActiveSubscriptions(userID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	streams := h.users[strings.TrimSpace(userID)]
	h.mu.RUnlock()
	if streams == nil {
		return 0
	}
	streams.mu.Lock()
	defer streams.mu.Unlock()
	return len(streams.subs)
}

func (h *Hub) ensureStreams(userID string) *userStreams {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams := h.users[userID]
	if streams == nil {
		streams = &userStreams{}
		h.users[userID] = streams
	}
	return streams
}

// C returns the subscriber channel.
func (s *Subscription) C() <-chan Signal {
	return s.ch
}

// Close detaches this subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.RLock()
		streams := s.hub.users[s.userID]
		s.hub.mu.RUnlock()
		if streams == nil {
			return
		}
		streams.mu.Lock()
		if _, ok := streams.subs[s.id]; ok {
			delete(streams.subs, s.id)
			close(s.ch)
		}
		streams.mu.Unlock()
	})
}
