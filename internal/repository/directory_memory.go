package repository

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/harrys-tix/internal/model"
)

// MemoryEvents is an in-process EventReader.  Put exists for seeding and
// tests; nothing in the request path writes events.
type MemoryEvents struct {
	mu   sync.RWMutex
	rows map[uint64]model.Event
}

func NewMemoryEvents() *MemoryEvents { return &MemoryEvents{rows: map[uint64]model.Event{}} }

func (m *MemoryEvents) Put(e model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[e.ID] = e
}

func (m *MemoryEvents) GetByID(_ context.Context, id uint64) (*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// MemoryUsers is an in-process UserReader.
type MemoryUsers struct {
	mu   sync.RWMutex
	rows map[uint64]model.UserProfile
}

func NewMemoryUsers() *MemoryUsers { return &MemoryUsers{rows: map[uint64]model.UserProfile{}} }

func (m *MemoryUsers) Put(u model.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.GatewayCustomerID = cloneStr(u.GatewayCustomerID)
	m.rows[u.ID] = u
}

func (m *MemoryUsers) GetByID(_ context.Context, id uint64) (*model.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.GatewayCustomerID = cloneStr(u.GatewayCustomerID)
	return &u, nil
}

// SeedDemo loads a small fixed data set for the memory backend: one admin,
// one member with a sandbox customer, one non-member and two events.
func SeedDemo(events *MemoryEvents, users *MemoryUsers, now time.Time) {
	cus := "cus_demo_member"
	users.Put(model.UserProfile{ID: 1, Email: "admin@harrystix.test", Role: model.RoleAdmin, IsMember: true})
	users.Put(model.UserProfile{ID: 2, Email: "member@harrystix.test", Role: model.RoleUser, IsMember: true, GatewayCustomerID: &cus})
	users.Put(model.UserProfile{ID: 3, Email: "guest@harrystix.test", Role: model.RoleUser})
	events.Put(model.Event{ID: 1, Title: "Friday Late Show", StartsAt: now.AddDate(0, 0, 10), MemberPrice: decimal.RequireFromString("12.00")})
	events.Put(model.Event{ID: 2, Title: "Sunday Matinee", StartsAt: now.AddDate(0, 0, 12), MemberPrice: decimal.RequireFromString("8.50")})
}
