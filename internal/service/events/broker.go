// Package events fans session state changes out to live subscribers.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayurscan/backend/internal/model/chat"
)

// Type names what changed in the session.
type Type string

const (
	TypeCamera     Type = "camera"
	TypeLoading    Type = "loading"
	TypeReport     Type = "report"
	TypeTranscript Type = "transcript"
	TypeError      Type = "error"
)

const subscriberBuffer = 16

// Event carries the session state right after a change.
type Event struct {
	Type      Type       `json:"event"`
	SessionID string     `json:"sessionId"`
	State     chat.State `json:"state"`
	Time      time.Time  `json:"time"`
}

// Broker keeps per-session subscriber channels.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	logger *zap.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:   make(map[string]map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a listener for one session. The cancel function
// unregisters it and closes the channel.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its session. Subscribers
// with a full buffer miss the event.
func (b *Broker) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping session event for slow subscriber",
				zap.String("session", event.SessionID),
				zap.String("event", string(event.Type)),
			)
		}
	}
}

// Subscribers reports how many listeners a session has.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
