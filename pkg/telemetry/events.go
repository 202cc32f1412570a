package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a change notification published after a repository operation.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TaskID is the affected task, if any.
	TaskID int64 `json:"task_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeTaskCreated      = "task.created"
	EventTypeTaskUpdated      = "task.updated"
	EventTypeTaskDeleted      = "task.deleted"
	EventTypeStoreFlushFailed = "store.flush_failed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, either inline or from a
// buffered background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc

	// sendMu orders buffer sends against Shutdown, so an accepted event is
	// always queued before the drain starts.
	sendMu  sync.Mutex
	stopped bool
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// NopEventPublisher returns a disabled publisher.
func NopEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		ep.sendMu.Lock()
		defer ep.sendMu.Unlock()

		if ep.stopped {
			return fmt.Errorf("event publisher stopped")
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishTaskCreated publishes a task created event.
func (ep *EventPublisher) PublishTaskCreated(id int64, title string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskCreated,
		Source:  "repository",
		TaskID:  id,
		Message: fmt.Sprintf("Task %d created", id),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"title": title,
		},
	})
}

// PublishTaskUpdated publishes a task updated event.
func (ep *EventPublisher) PublishTaskUpdated(id int64, oldTitle, newTitle string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskUpdated,
		Source:  "repository",
		TaskID:  id,
		Message: fmt.Sprintf("Task %d renamed", id),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"old_title": oldTitle,
			"new_title": newTitle,
		},
	})
}

// PublishTaskDeleted publishes a task deleted event.
func (ep *EventPublisher) PublishTaskDeleted(id int64) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskDeleted,
		Source:  "repository",
		TaskID:  id,
		Message: fmt.Sprintf("Task %d deleted", id),
		Level:   EventLevelInfo,
	})
}

// PublishFlushFailed publishes a store flush failure. The staged change
// stays pending; subscribers may show it as unsaved.
func (ep *EventPublisher) PublishFlushFailed(id int64, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStoreFlushFailed,
		Source:  "store",
		TaskID:  id,
		Message: fmt.Sprintf("Flush failed: %s", reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer in batches until shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Deliver when the batch is full or nothing else is queued
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers, in subscription order,
// on the calling goroutine.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher, delivering anything still buffered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.sendMu.Lock()
	ep.stopped = true
	ep.cancel()
	ep.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByTaskID creates a filter that only allows events for a specific task.
func FilterByTaskID(id int64) EventFilter {
	return func(event Event) bool {
		return event.TaskID == id
	}
}
