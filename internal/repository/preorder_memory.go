package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/harrys-tix/internal/model"
)

// MemoryPreOrders is an in-process PreOrderStore used for local development
// and tests.  Records are copied on the way in and out so callers never share
// state with the store.
type MemoryPreOrders struct {
	mu     sync.RWMutex
	rows   map[string]*model.PreOrder
	order  []string
	events *MemoryEvents
	users  *MemoryUsers
}

var _ PreOrderStore = (*MemoryPreOrders)(nil)

// NewMemoryPreOrders returns an empty store.  events and users are optional
// and only used to fill in the admin summaries.
func NewMemoryPreOrders(events *MemoryEvents, users *MemoryUsers) *MemoryPreOrders {
	return &MemoryPreOrders{rows: map[string]*model.PreOrder{}, events: events, users: users}
}

func clonePreOrder(p *model.PreOrder) *model.PreOrder {
	c := *p
	c.PaymentMethodID = cloneStr(p.PaymentMethodID)
	c.GatewayCustomerID = cloneStr(p.GatewayCustomerID)
	c.GatewayPaymentIntentID = cloneStr(p.GatewayPaymentIntentID)
	c.FailureReason = cloneStr(p.FailureReason)
	c.ApprovedAt = cloneTime(p.ApprovedAt)
	c.PaidAt = cloneTime(p.PaidAt)
	c.FailedAt = cloneTime(p.FailedAt)
	c.CancelledAt = cloneTime(p.CancelledAt)
	return &c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (m *MemoryPreOrders) Create(_ context.Context, p *model.PreOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = clonePreOrder(p)
	m.order = append(m.order, p.ID)
	return nil
}

func (m *MemoryPreOrders) CreateIfNoActive(_ context.Context, p *model.PreOrder, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		q := m.rows[id]
		if q.UserID == p.UserID && q.Status.Active() && !q.CreatedAt.Before(from) && q.CreatedAt.Before(to) {
			return ErrActiveExists
		}
	}
	m.rows[p.ID] = clonePreOrder(p)
	m.order = append(m.order, p.ID)
	return nil
}

func (m *MemoryPreOrders) GetByID(_ context.Context, id string) (*model.PreOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePreOrder(p), nil
}

func (m *MemoryPreOrders) GetByIntentID(_ context.Context, intentID string) (*model.PreOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		p := m.rows[id]
		if p.GatewayPaymentIntentID != nil && *p.GatewayPaymentIntentID == intentID {
			return clonePreOrder(p), nil
		}
	}
	return nil, ErrNotFound
}

// filter returns matching rows in insertion order, which is creation order.
func (m *MemoryPreOrders) filter(keep func(*model.PreOrder) bool) []model.PreOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.PreOrder{}
	for _, id := range m.order {
		if p := m.rows[id]; keep(p) {
			out = append(out, *clonePreOrder(p))
		}
	}
	return out
}

func (m *MemoryPreOrders) ListByUser(_ context.Context, userID uint64) ([]model.PreOrder, error) {
	return m.filter(func(p *model.PreOrder) bool { return p.UserID == userID }), nil
}

func (m *MemoryPreOrders) ListByStatus(_ context.Context, status model.Status) ([]model.PreOrder, error) {
	return m.filter(func(p *model.PreOrder) bool { return p.Status == status }), nil
}

func (m *MemoryPreOrders) ListSummaries(ctx context.Context) ([]model.PreOrderSummary, error) {
	all := m.filter(func(*model.PreOrder) bool { return true })
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	out := make([]model.PreOrderSummary, 0, len(all))
	for _, p := range all {
		s := model.PreOrderSummary{PreOrder: p}
		if m.events != nil {
			if ev, err := m.events.GetByID(ctx, p.EventID); err == nil {
				s.EventTitle = ev.Title
			}
		}
		if m.users != nil {
			if u, err := m.users.GetByID(ctx, p.UserID); err == nil {
				s.UserEmail = u.Email
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryPreOrders) FindActive(_ context.Context, userID uint64, from, to time.Time) (*model.PreOrder, error) {
	found := m.filter(func(p *model.PreOrder) bool {
		return p.UserID == userID && p.Status.Active() &&
			!p.CreatedAt.Before(from) && p.CreatedAt.Before(to)
	})
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return &found[0], nil
}

func (m *MemoryPreOrders) Transition(_ context.Context, t Transition) (*model.PreOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[t.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if !statusIn(p.Status, t.From) || (t.Owner != nil && p.UserID != *t.Owner) {
		return nil, ErrStatusChanged
	}
	p.Status = t.To
	p.UpdatedAt = t.At
	applyMilestones(p, t.To, t.At)
	if t.PaymentIntentID != nil {
		p.GatewayPaymentIntentID = cloneStr(t.PaymentIntentID)
	}
	if t.FailureReason != nil {
		p.FailureReason = cloneStr(t.FailureReason)
	}
	return clonePreOrder(p), nil
}

func (m *MemoryPreOrders) UpdateGateway(_ context.Context, id string, allowed []model.Status, f GatewayFields, at time.Time) (*model.PreOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if f.empty() || len(allowed) == 0 {
		return clonePreOrder(p), nil
	}
	if !statusIn(p.Status, allowed) {
		return nil, ErrStatusChanged
	}
	if f.PaymentMethodID != nil {
		p.PaymentMethodID = cloneStr(f.PaymentMethodID)
	}
	if f.GatewayCustomerID != nil {
		p.GatewayCustomerID = cloneStr(f.GatewayCustomerID)
	}
	if f.GatewayPaymentIntentID != nil {
		p.GatewayPaymentIntentID = cloneStr(f.GatewayPaymentIntentID)
	}
	p.UpdatedAt = at
	return clonePreOrder(p), nil
}
