package events

import (
	"log/slog"
	"sync"

	"github.com/loreweave/loreweave/pkg/logger"
)

// Each subscriber gets its own buffered channel and delivery goroutine;
// a slow subscriber drops its own events instead of stalling emitters.
const subscriberBuffer = 64

// Service is an in-process broadcast bus for domain events.
type Service struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	name string
	ch   chan Event
	done chan struct{}
}

// NewService creates an empty bus.
func NewService(log *slog.Logger) *Service {
	return &Service{
		log:  log.With(logger.Scope("events")),
		subs: make(map[int]*subscriber),
	}
}

// Subscribe registers fn for every future event and returns an
// unsubscribe function. Delivery is asynchronous on a dedicated
// goroutine per subscriber, in emission order.
func (s *Service) Subscribe(name string, fn func(Event)) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	sub := &subscriber{
		name: name,
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		defer close(sub.done)
		for ev := range sub.ch {
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			_, active := s.subs[id]
			delete(s.subs, id)
			s.mu.Unlock()
			if !active {
				// Close already tore this subscriber down.
				return
			}
			close(sub.ch)
			<-sub.done
		})
	}
}

// Emit broadcasts an event to every subscriber. Emit never blocks: when
// a subscriber's buffer is full its event is dropped with a warning.
func (s *Service) Emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			s.log.Warn("dropping event for slow subscriber",
				slog.String("subscriber", sub.name),
				slog.String("kind", string(ev.Kind)),
				slog.String("node_id", ev.NodeID),
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close drains and stops all subscriber goroutines. Further Emit and
// Subscribe calls are no-ops.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*subscriber, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
		<-sub.done
	}
}
