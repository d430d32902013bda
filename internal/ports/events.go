package ports

import "context"

const (
	// EventWorkflowStarted is emitted when graph execution begins.
	EventWorkflowStarted = "workflow.started"
	// EventWorkflowCompleted is emitted after every node ran cleanly.
	EventWorkflowCompleted = "workflow.completed"
	// EventWorkflowFailed is emitted when at least one node failed.
	EventWorkflowFailed = "workflow.failed"
	// EventNodeStarted is emitted before a node runs.
	EventNodeStarted = "node.started"
	// EventNodeCompleted is emitted when a node finishes successfully.
	EventNodeCompleted = "node.completed"
	// EventNodeFailed is emitted when a node's interface returns an error.
	EventNodeFailed = "node.failed"
	// EventNodeSkipped is emitted when a node is skipped because an upstream node failed.
	EventNodeSkipped = "node.skipped"
)

// DomainEvent represents a significant occurrence during a run. Events carry
// structured payloads that subscribers use for logging or integrations.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers run. Implementations must be
// thread-safe because sibling nodes publish concurrently.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Failures are returned
// so publishers can log them and keep delivering to remaining subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler.
type Subscription interface {
	Unsubscribe()
}
