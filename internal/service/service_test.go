package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/harrys-tix/internal/model"
	"github.com/iliyamo/harrys-tix/internal/payment"
	"github.com/iliyamo/harrys-tix/internal/queue"
	"github.com/iliyamo/harrys-tix/internal/repository"
)

const (
	memberID      uint64 = 2
	guestID       uint64 = 3
	otherMemberID uint64 = 4
	noCustomerID  uint64 = 5

	lateShowID uint64 = 1
	matineeID  uint64 = 2
)

var london = mustLoad("Europe/London")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeGateway struct {
	mu       sync.Mutex
	charges  []payment.ChargeRequest
	declines map[string]error
	seq      int
	// afterCharge runs once the gateway has accepted a charge, before the
	// caller sees the result.
	afterCharge func(intentID string, req payment.ChargeRequest)
}

func (g *fakeGateway) CreateSetupIntent(_ context.Context, customerRef string) (payment.SetupIntent, error) {
	return payment.SetupIntent{ClientSecret: "seti_" + customerRef + "_secret"}, nil
}

func (g *fakeGateway) ChargeOffSession(_ context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	if err, ok := g.declines[req.PaymentMethodRef]; ok {
		g.mu.Unlock()
		return payment.Charge{}, err
	}
	g.seq++
	intentID := fmt.Sprintf("pi_test_%d", g.seq)
	hook := g.afterCharge
	g.mu.Unlock()
	if hook != nil {
		hook(intentID, req)
	}
	return payment.Charge{IntentID: intentID, Status: "processing"}, nil
}

func (g *fakeGateway) Charges() []payment.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payment.ChargeRequest(nil), g.charges...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.PreOrderStatusChanged
}

func (n *recordingNotifier) PreOrderStatusChanged(_ context.Context, ev queue.PreOrderStatusChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Events() []queue.PreOrderStatusChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]queue.PreOrderStatusChanged(nil), n.events...)
}

type fixture struct {
	store   *repository.MemoryPreOrders
	events  *repository.MemoryEvents
	users   *repository.MemoryUsers
	gateway *fakeGateway
	clock   *testClock
	svc     *PreOrderService
}

// tuesdayMorning is 10:00 London time on Tuesday 13 October 2026.
var tuesdayMorning = time.Date(2026, time.October, 13, 10, 0, 0, 0, london)

func newFixture(t *testing.T, notifier Notifier) *fixture {
	t.Helper()
	events := repository.NewMemoryEvents()
	users := repository.NewMemoryUsers()
	cus := "cus_member"
	other := "cus_other"
	users.Put(model.UserProfile{ID: memberID, Email: "member@example.com", Role: model.RoleUser, IsMember: true, GatewayCustomerID: &cus})
	users.Put(model.UserProfile{ID: guestID, Email: "guest@example.com", Role: model.RoleUser})
	users.Put(model.UserProfile{ID: otherMemberID, Email: "other@example.com", Role: model.RoleUser, IsMember: true, GatewayCustomerID: &other})
	users.Put(model.UserProfile{ID: noCustomerID, Email: "nocus@example.com", Role: model.RoleUser, IsMember: true})
	events.Put(model.Event{ID: lateShowID, Title: "Late Show", MemberPrice: decimal.RequireFromString("12.00")})
	events.Put(model.Event{ID: matineeID, Title: "Matinee", MemberPrice: decimal.RequireFromString("8.335")})

	f := &fixture{
		store:   repository.NewMemoryPreOrders(events, users),
		events:  events,
		users:   users,
		gateway: &fakeGateway{declines: map[string]error{}},
		clock:   &testClock{t: tuesdayMorning},
	}
	f.svc = NewPreOrderService(f.store, events, users, f.gateway, notifier, f.clock, london, zaptest.NewLogger(t))
	return f
}

// member registers an extra member with a gateway customer.
func (f *fixture) member(id uint64) uint64 {
	cus := fmt.Sprintf("cus_%d", id)
	f.users.Put(model.UserProfile{ID: id, Email: fmt.Sprintf("m%d@example.com", id), Role: model.RoleUser, IsMember: true, GatewayCustomerID: &cus})
	return id
}

func (f *fixture) create(t *testing.T, userID, eventID uint64, qty int, pm string) *model.PreOrder {
	t.Helper()
	p, err := f.svc.Create(context.Background(), CreateInput{UserID: userID, EventID: eventID, Quantity: qty, PaymentMethodID: pm})
	require.NoError(t, err)
	return p
}

func (f *fixture) approved(t *testing.T, userID uint64, pm string) *model.PreOrder {
	t.Helper()
	p := f.create(t, userID, lateShowID, 2, pm)
	p, err := f.svc.Approve(context.Background(), p.ID)
	require.NoError(t, err)
	return p
}
