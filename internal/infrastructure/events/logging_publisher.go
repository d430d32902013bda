// Package events turns execution lifecycle events into log lines and fans
// them out to in-process subscribers.
package events

import (
	"context"
	"sort"
	"sync"

	"github.com/pennlinc/qsiprep/internal/ports"
)

// Event is the DomainEvent published by the graph executor.
type Event struct {
	Type string
	Data map[string]interface{}
}

// New constructs an Event.
func New(eventType string, data map[string]interface{}) Event {
	return Event{Type: eventType, Data: data}
}

func (e Event) EventType() string    { return e.Type }
func (e Event) Payload() interface{} { return e.Data }

// Node chatter stays at debug so a MultiProc run over many participants
// does not drown the failures.
var eventMessages = map[string]struct {
	level   string
	message string
}{
	ports.EventWorkflowStarted:   {"info", "workflow started"},
	ports.EventWorkflowCompleted: {"info", "workflow completed"},
	ports.EventWorkflowFailed:    {"error", "workflow failed"},
	ports.EventNodeStarted:       {"debug", "node started"},
	ports.EventNodeCompleted:     {"debug", "node finished"},
	ports.EventNodeFailed:        {"error", "node failed"},
	ports.EventNodeSkipped:       {"warn", "node skipped after upstream failure"},
}

// LoggingPublisher logs every event and then runs the handlers subscribed to
// its type, synchronously and in subscription order.
type LoggingPublisher struct {
	logger ports.Logger

	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   int
}

type handlerEntry struct {
	id      int
	handler ports.EventHandler
}

// NewLoggingPublisher returns a publisher writing to logger.
func NewLoggingPublisher(logger ports.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger, handlers: make(map[string][]handlerEntry)}
}

// Publish logs event and notifies subscribers. Handler errors are logged and
// never returned, so one broken subscriber cannot fail a node.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || p.logger == nil || event == nil {
		return nil
	}

	p.mu.RLock()
	handlers := append([]handlerEntry(nil), p.handlers[event.EventType()]...)
	p.mu.RUnlock()

	fields := append([]interface{}{"event_type", event.EventType()}, payloadFields(event.Payload())...)
	p.emit(ctx, event.EventType(), fields)

	for _, h := range handlers {
		if err := h.handler(ctx, event); err != nil {
			p.logger.Warn(ctx, "event handler failed", "event_type", event.EventType(), "error", err)
		}
	}
	return nil
}

func (p *LoggingPublisher) emit(ctx context.Context, eventType string, fields []interface{}) {
	spec, ok := eventMessages[eventType]
	if !ok {
		p.logger.Info(ctx, eventType, fields...)
		return
	}
	switch spec.level {
	case "debug":
		p.logger.Debug(ctx, spec.message, fields...)
	case "warn":
		p.logger.Warn(ctx, spec.message, fields...)
	case "error":
		p.logger.Error(ctx, spec.message, fields...)
	default:
		p.logger.Info(ctx, spec.message, fields...)
	}
}

// payloadFields flattens a map payload into sorted key/value pairs.
func payloadFields(payload interface{}) []interface{} {
	switch data := payload.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(data))
		for key := range data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fields := make([]interface{}, 0, 2*len(keys))
		for _, key := range keys {
			fields = append(fields, key, data[key])
		}
		return fields
	default:
		return []interface{}{"payload", data}
	}
}

// Subscribe registers handler for eventType. Nil handlers are ignored.
func (p *LoggingPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if p == nil || handler == nil {
		return unsubscribeFunc(nil), nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.handlers[eventType] = append(p.handlers[eventType], handlerEntry{id: id, handler: handler})
	p.mu.Unlock()

	return unsubscribeFunc(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		entries := p.handlers[eventType]
		for i, e := range entries {
			if e.id == id {
				p.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}), nil
}

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

var _ ports.EventPublisher = (*LoggingPublisher)(nil)
