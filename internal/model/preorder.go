package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a pre-order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists every legal move.  failed -> approved is the manual
// re-approval path used by admins to retry a failed charge.
var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusFailed, StatusCancelled},
	StatusApproved:   {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusPaid, StatusFailed},
	StatusFailed:     {StatusApproved},
}

// CanTransition reports whether a pre-order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Sources returns the statuses from which `to` can be reached.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusApproved, StatusProcessing, StatusPaid, StatusFailed, StatusCancelled} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusProcessing, StatusPaid, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further user or scheduler action applies.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the pre-order still occupies the member's weekly slot.
func (s Status) Active() bool {
	return s != StatusCancelled && s != StatusFailed
}

// PreOrder is a member's reservation of tickets for one event ahead of
// public sale.  TotalPrice is fixed when the pre-order is created.  At most
// one of the milestone timestamps is set; it matches the current status
// (a processing pre-order keeps its ApprovedAt).
type PreOrder struct {
	ID                     string          `json:"id"`
	UserID                 uint64          `json:"user_id"`
	EventID                uint64          `json:"event_id"`
	Quantity               int             `json:"quantity"`
	TotalPrice             decimal.Decimal `json:"total_price"`
	Status                 Status          `json:"status"`
	PaymentMethodID        *string         `json:"payment_method_id"`
	GatewayCustomerID      *string         `json:"gateway_customer_id"`
	GatewayPaymentIntentID *string         `json:"gateway_payment_intent_id"`
	FailureReason          *string         `json:"failure_reason,omitempty"`
	ApprovedAt             *time.Time      `json:"approved_at"`
	PaidAt                 *time.Time      `json:"paid_at"`
	FailedAt               *time.Time      `json:"failed_at"`
	CancelledAt            *time.Time      `json:"cancelled_at"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// HasPaymentInfo reports whether the pre-order can be charged off-session.
func (p *PreOrder) HasPaymentInfo() bool {
	return p.PaymentMethodID != nil && *p.PaymentMethodID != "" &&
		p.GatewayCustomerID != nil && *p.GatewayCustomerID != ""
}

// PreOrderSummary is the admin view of a pre-order, joined with the event
// title and the member's email.
type PreOrderSummary struct {
	PreOrder
	EventTitle string `json:"event_title"`
	UserEmail  string `json:"user_email"`
}

// preOrderJSON renders money with two decimal places ("24.00").
type preOrderJSON PreOrder

func (p PreOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		preOrderJSON
		TotalPrice string `json:"total_price"`
	}{preOrderJSON(p), p.TotalPrice.StringFixed(2)})
}

func (s PreOrderSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		preOrderJSON
		TotalPrice string `json:"total_price"`
		EventTitle string `json:"event_title"`
		UserEmail  string `json:"user_email"`
	}{preOrderJSON(s.PreOrder), s.PreOrder.TotalPrice.StringFixed(2), s.EventTitle, s.UserEmail})
}
