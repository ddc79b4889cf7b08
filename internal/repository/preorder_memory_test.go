package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/harrys-tix/internal/model"
)

var t0 = time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func seedPreOrder(t *testing.T, m *MemoryPreOrders, id string, userID uint64, status model.Status, created time.Time) {
	t.Helper()
	require.NoError(t, m.Create(context.Background(), &model.PreOrder{
		ID:         id,
		UserID:     userID,
		EventID:    1,
		Quantity:   2,
		TotalPrice: decimal.RequireFromString("24.00"),
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}))
}

func TestMemoryPreOrdersTransitionGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryPreOrders(nil, nil)
	seedPreOrder(t, m, "a", 2, model.StatusPending, t0)

	p, err := m.Transition(ctx, Transition{ID: "a", From: []model.Status{model.StatusPending}, To: model.StatusApproved, At: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, p.Status)
	require.NotNil(t, p.ApprovedAt)
	assert.Equal(t, t0.Add(time.Hour), *p.ApprovedAt)

	// already approved: the pending guard no longer matches
	_, err = m.Transition(ctx, Transition{ID: "a", From: []model.Status{model.StatusPending}, To: model.StatusCancelled, At: t0})
	assert.ErrorIs(t, err, ErrStatusChanged)

	_, err = m.Transition(ctx, Transition{ID: "missing", From: []model.Status{model.StatusPending}, To: model.StatusCancelled, At: t0})
	assert.ErrorIs(t, err, ErrNotFound)

	p, err = m.Transition(ctx, Transition{
		ID: "a", From: []model.Status{model.StatusApproved}, To: model.StatusProcessing, At: t0.Add(2 * time.Hour),
		PaymentIntentID: strPtr("pi_1"),
	})
	require.NoError(t, err)
	assert.NotNil(t, p.ApprovedAt, "processing keeps approved_at")
	assert.Equal(t, "pi_1", *p.GatewayPaymentIntentID)

	p, err = m.Transition(ctx, Transition{
		ID: "a", From: []model.Status{model.StatusProcessing}, To: model.StatusFailed, At: t0.Add(3 * time.Hour),
		FailureReason: strPtr("card_declined"),
	})
	require.NoError(t, err)
	assert.Nil(t, p.ApprovedAt)
	require.NotNil(t, p.FailedAt)
	assert.Equal(t, "card_declined", *p.FailureReason)

	p, err = m.Transition(ctx, Transition{ID: "a", From: []model.Status{model.StatusFailed}, To: model.StatusApproved, At: t0.Add(4 * time.Hour)})
	require.NoError(t, err)
	assert.Nil(t, p.FailedAt)
	assert.Nil(t, p.FailureReason)
}

func TestMemoryPreOrdersTransitionOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryPreOrders(nil, nil)
	seedPreOrder(t, m, "a", 2, model.StatusPending, t0)

	other := uint64(3)
	_, err := m.Transition(ctx, Transition{ID: "a", From: []model.Status{model.StatusPending}, To: model.StatusCancelled, At: t0, Owner: &other})
	assert.ErrorIs(t, err, ErrStatusChanged)

	owner := uint64(2)
	p, err := m.Transition(ctx, Transition{ID: "a", From: []model.Status{model.StatusPending}, To: model.StatusCancelled, At: t0, Owner: &owner})
	require.NoError(t, err)
	assert.NotNil(t, p.CancelledAt)
}

func TestMemoryPreOrdersFindActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryPreOrders(nil, nil)
	from := time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	seedPreOrder(t, m, "old", 2, model.StatusPaid, from.Add(-time.Minute))
	seedPreOrder(t, m, "cancelled", 2, model.StatusCancelled, from.Add(time.Hour))
	seedPreOrder(t, m, "failed", 2, model.StatusFailed, from.Add(2*time.Hour))
	seedPreOrder(t, m, "other-user", 3, model.StatusPending, from.Add(time.Hour))

	_, err := m.FindActive(ctx, 2, from, to)
	assert.ErrorIs(t, err, ErrNotFound)

	seedPreOrder(t, m, "live", 2, model.StatusApproved, from)
	p, err := m.FindActive(ctx, 2, from, to)
	require.NoError(t, err)
	assert.Equal(t, "live", p.ID)

	_, err = m.FindActive(ctx, 2, to, to.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPreOrdersListing(t *testing.T) {
	ctx := context.Background()
	events := NewMemoryEvents()
	users := NewMemoryUsers()
	SeedDemo(events, users, t0)
	m := NewMemoryPreOrders(events, users)

	seedPreOrder(t, m, "first", 2, model.StatusApproved, t0)
	seedPreOrder(t, m, "second", 3, model.StatusPending, t0.Add(time.Minute))
	seedPreOrder(t, m, "third", 2, model.StatusApproved, t0.Add(2*time.Minute))

	approved, err := m.ListByStatus(ctx, model.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 2)
	assert.Equal(t, "first", approved[0].ID)
	assert.Equal(t, "third", approved[1].ID)

	mine, err := m.ListByUser(ctx, 3)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "second", mine[0].ID)

	sums, err := m.ListSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 3)
	assert.Equal(t, "third", sums[0].ID)
	assert.Equal(t, "Friday Late Show", sums[0].EventTitle)
	assert.Equal(t, "member@harrystix.test", sums[0].UserEmail)
	assert.Equal(t, "guest@harrystix.test", sums[1].UserEmail)
}

func TestMemoryPreOrdersUpdateGateway(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryPreOrders(nil, nil)
	seedPreOrder(t, m, "a", 2, model.StatusPending, t0)
	open := []model.Status{model.StatusPending, model.StatusApproved}

	p, err := m.UpdateGateway(ctx, "a", open, GatewayFields{PaymentMethodID: strPtr("pm_1")}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "pm_1", *p.PaymentMethodID)
	assert.Nil(t, p.GatewayCustomerID)
	assert.Equal(t, t0.Add(time.Minute), p.UpdatedAt)

	_, err = m.Transition(ctx, Transition{ID: "a", From: []model.Status{model.StatusPending}, To: model.StatusCancelled, At: t0})
	require.NoError(t, err)
	_, err = m.UpdateGateway(ctx, "a", open, GatewayFields{PaymentMethodID: strPtr("pm_2")}, t0)
	assert.ErrorIs(t, err, ErrStatusChanged)

	_, err = m.UpdateGateway(ctx, "missing", open, GatewayFields{PaymentMethodID: strPtr("pm_2")}, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPreOrdersReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryPreOrders(nil, nil)
	seedPreOrder(t, m, "a", 2, model.StatusPending, t0)

	p, err := m.GetByID(ctx, "a")
	require.NoError(t, err)
	p.Status = model.StatusPaid
	p.PaymentMethodID = strPtr("pm_mutated")

	again, err := m.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, again.Status)
	assert.Nil(t, again.PaymentMethodID)
}

func TestMemoryPreOrdersCreateIfNoActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryPreOrders(nil, nil)
	from := time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	seedPreOrder(t, m, "cancelled", 2, model.StatusCancelled, from.Add(time.Hour))

	p := &model.PreOrder{ID: "new", UserID: 2, Status: model.StatusPending, CreatedAt: from.Add(2 * time.Hour)}
	require.NoError(t, m.CreateIfNoActive(ctx, p, from, to))

	again := &model.PreOrder{ID: "again", UserID: 2, Status: model.StatusPending, CreatedAt: from.Add(3 * time.Hour)}
	assert.ErrorIs(t, m.CreateIfNoActive(ctx, again, from, to), ErrActiveExists)
	_, err := m.GetByID(ctx, "again")
	assert.ErrorIs(t, err, ErrNotFound)

	// next week is free
	next := &model.PreOrder{ID: "next", UserID: 2, Status: model.StatusPending, CreatedAt: to}
	assert.NoError(t, m.CreateIfNoActive(ctx, next, to, to.AddDate(0, 0, 7)))
}
