// Package notification fans playback events out to watching subscribers.
package notification

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicetube/internal/app/playback"
)

// queueSize bounds the events buffered per subscriber. Events published
// while the buffer is full are dropped for that subscriber.
const queueSize = 64

// Notification is a sequenced playback event.
type Notification struct {
	SequenceNo uint64
	Event      playback.Event
}

// Stream represents a notification stream for a subscriber.
// Send is only ever called from one goroutine per subscription.
type Stream interface {
	Send(*Notification) error
}

type subscription struct {
	id     string
	userID string // Empty means all users
	stream Stream
	queue  chan *Notification

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

func newSubscription(id, userID string, stream Stream) *subscription {
	return &subscription{
		id:      id,
		userID:  userID,
		stream:  stream,
		queue:   make(chan *Notification, queueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// run delivers queued notifications in order until stopped.
func (s *subscription) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case n := <-s.queue:
			// Prefer stopping over a pending send
			select {
			case <-s.stop:
				return
			default:
			}
			if err := s.stream.Send(n); err != nil {
				zlog.Debug().Err(err).Msgf("notification: send failed: subscription=%s", s.id)
			}
		}
	}
}

// close stops the writer and waits until it no longer touches the stream.
func (s *subscription) close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.stopped
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.Mutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
// A non-empty userID limits the subscription to that user's events.
func (m *Manager) Subscribe(userID string, stream Stream) string {
	id := uuid.New().String()
	sub := newSubscription(id, userID, stream)
	go sub.run()

	m.mu.Lock()
	m.subscriptions[id] = sub
	m.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Once it returns the subscription's
// stream is no longer written to. Unknown IDs are ignored.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	sub, ok := m.subscriptions[subscriptionID]
	delete(m.subscriptions, subscriptionID)
	m.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish implements playback.EventSink.
func (m *Manager) Publish(event playback.Event) {
	m.Broadcast(event)
}

// Broadcast queues an event for every matching subscriber. It never blocks
// on a subscriber; a full queue drops the event for that subscriber only.
func (m *Manager) Broadcast(event playback.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Sequencing and enqueueing under one lock keeps every queue in order.
	m.sequenceNo++
	n := &Notification{SequenceNo: m.sequenceNo, Event: event}

	for _, sub := range m.subscriptions {
		if sub.userID != "" && sub.userID != event.UserID {
			continue
		}
		select {
		case sub.queue <- n:
		default:
			zlog.Warn().Msgf("notification: queue full, dropping event: subscription=%s sequence_no=%d", sub.id, n.SequenceNo)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions and waits for their writers to stop.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
