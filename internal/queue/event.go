// Package queue defines message payloads exchanged over the message broker.
package queue

// PreOrderStatusChangedQueue carries one message per pre-order transition.
const PreOrderStatusChangedQueue = "preorder.status_changed"

// PreOrderStatusChanged is published after every successful pre-order
// transition.  It contains enough information for the notification consumer
// to email the member without querying the primary database.
type PreOrderStatusChanged struct {
	PreOrderID     string `json:"pre_order_id"`
	UserID         uint64 `json:"user_id"`
	UserEmail      string `json:"user_email,omitempty"`
	EventID        uint64 `json:"event_id"`
	EventTitle     string `json:"event_title,omitempty"`
	Quantity       int    `json:"quantity"`
	TotalPrice     string `json:"total_price"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}
