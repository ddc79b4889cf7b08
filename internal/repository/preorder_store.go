package repository

import (
	"context"
	"time"

	"github.com/iliyamo/harrys-tix/internal/model"
)

// PreOrderStore persists pre-orders.  Two implementations exist: the SQL
// store for MySQL/PostgreSQL and an in-memory store for development.  They
// behave identically apart from durability.
type PreOrderStore interface {
	Create(ctx context.Context, p *model.PreOrder) error
	// CreateIfNoActive inserts p unless the same user already has an active
	// pre-order created in [from, to), in which case it returns
	// ErrActiveExists.  The check and the insert are atomic.
	CreateIfNoActive(ctx context.Context, p *model.PreOrder, from, to time.Time) error
	GetByID(ctx context.Context, id string) (*model.PreOrder, error)
	GetByIntentID(ctx context.Context, intentID string) (*model.PreOrder, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.PreOrder, error)
	// ListByStatus returns pre-orders in creation order.
	ListByStatus(ctx context.Context, status model.Status) ([]model.PreOrder, error)
	ListSummaries(ctx context.Context) ([]model.PreOrderSummary, error)
	// FindActive returns the user's pre-order created in [from, to) whose
	// status is neither cancelled nor failed.
	FindActive(ctx context.Context, userID uint64, from, to time.Time) (*model.PreOrder, error)
	// Transition applies a guarded status change and returns the updated row.
	Transition(ctx context.Context, t Transition) (*model.PreOrder, error)
	// UpdateGateway overwrites the non-nil gateway fields while the status is
	// one of allowed.
	UpdateGateway(ctx context.Context, id string, allowed []model.Status, f GatewayFields, at time.Time) (*model.PreOrder, error)
}

// Transition describes a guarded status change.  The write only happens when
// the row's current status is in From (and, if Owner is set, the row belongs
// to that user).
type Transition struct {
	ID              string
	From            []model.Status
	To              model.Status
	At              time.Time
	Owner           *uint64
	PaymentIntentID *string
	FailureReason   *string
}

// GatewayFields is the whitelisted subset of gateway columns an admin or
// member may set directly.
type GatewayFields struct {
	PaymentMethodID        *string
	GatewayCustomerID      *string
	GatewayPaymentIntentID *string
}

func (f GatewayFields) empty() bool {
	return f.PaymentMethodID == nil && f.GatewayCustomerID == nil && f.GatewayPaymentIntentID == nil
}

func statusIn(s model.Status, set []model.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// applyMilestones sets the timestamp matching the new status and clears the
// others.  processing keeps approved_at; approval clears a previous
// failure reason.
func applyMilestones(p *model.PreOrder, to model.Status, at time.Time) {
	ts := at
	switch to {
	case model.StatusProcessing:
		p.PaidAt, p.FailedAt, p.CancelledAt = nil, nil, nil
		return
	case model.StatusApproved:
		p.ApprovedAt, p.PaidAt, p.FailedAt, p.CancelledAt = &ts, nil, nil, nil
		p.FailureReason = nil
	case model.StatusPaid:
		p.ApprovedAt, p.PaidAt, p.FailedAt, p.CancelledAt = nil, &ts, nil, nil
	case model.StatusFailed:
		p.ApprovedAt, p.PaidAt, p.FailedAt, p.CancelledAt = nil, nil, &ts, nil
	case model.StatusCancelled:
		p.ApprovedAt, p.PaidAt, p.FailedAt, p.CancelledAt = nil, nil, nil, &ts
	}
}
