package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/harrys-tix/internal/model"
)

// EventReader loads the event fields needed to price a pre-order.
type EventReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
}

// EventRepo reads the events table.  Event management lives in the admin
// CRUD surface; this repository never writes.
type EventRepo struct{ DB *sqlx.DB }

func NewEventRepo(db *sqlx.DB) *EventRepo { return &EventRepo{DB: db} }

type eventRecord struct {
	ID          uint64          `db:"id"`
	Title       string          `db:"title"`
	StartsAt    time.Time       `db:"starts_at"`
	MemberPrice decimal.Decimal `db:"member_price"`
}

// GetByID returns the event or ErrNotFound.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	var rec eventRecord
	err := r.DB.GetContext(ctx, &rec,
		r.DB.Rebind("SELECT id, title, starts_at, member_price FROM events WHERE id = ? LIMIT 1"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model.Event{ID: rec.ID, Title: rec.Title, StartsAt: rec.StartsAt, MemberPrice: rec.MemberPrice}, nil
}
