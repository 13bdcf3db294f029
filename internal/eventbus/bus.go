// Package eventbus fans daemon events out to subscribers on a small worker
// pool so publishers on the protocol and sync paths never wait on them.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeSessionOpened EventType = "session_opened"
	EventTypeSessionClosed EventType = "session_closed"
	EventTypeSyncState     EventType = "sync_state"
	EventTypeAutoOff       EventType = "auto_off"
	EventTypeReconfigured  EventType = "reconfigured"
)

// AllEventTypes lists every event the daemon publishes
var AllEventTypes = []EventType{
	EventTypeSessionOpened,
	EventTypeSessionClosed,
	EventTypeSyncState,
	EventTypeAutoOff,
	EventTypeReconfigured,
}

// Default configuration
const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 256
)

// Event represents an event in the system
type Event struct {
	Type EventType
	Data map[string]interface{}
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus routes events to handlers through a fixed set of workers.
//
// mu guards handlers and also the queue send: Publish sends under the read
// lock and Close closes the queue under the write lock.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	// closed once Close starts; Publish drops events after that
	closing   chan struct{}
	closeOnce sync.Once
}

// NewWithConfig creates a bus. Values <= 0 fall back to the defaults.
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker runs queued handlers until the queue is closed. A panicking
// handler is logged and does not take the worker down.
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues event for every handler of its type without blocking. When
// the queue is full or the bus is closing the event is dropped and logged.
// Publishing on a nil bus does nothing.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[event.Type] {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		default:
		}

		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops accepting events and waits for queued handlers to finish, or
// for ctx to end. It is safe to call more than once.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
		b.mu.Lock()
		close(b.workQueue)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
