package domain

import "time"

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderHeld          EventType = "order.held"
	EventOrderRejected      EventType = "order.rejected"
	EventOrderVerified      EventType = "order.verified"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderDeleted       EventType = "order.deleted"
	EventOrderPunched       EventType = "order.punched"
	EventOrderDelivered     EventType = "order.delivered"
)

// Event is published after a lifecycle transaction commits.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	OrderID    int64             `json:"order_id"`
	OrderCode  string            `json:"order_code"`
	Status     string            `json:"status,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
