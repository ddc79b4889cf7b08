package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/harrys-tix/internal/model"
)

// UserReader loads member profiles.  Users are managed elsewhere; the
// pre-order flow only reads them.
type UserReader interface {
	GetByID(ctx context.Context, id uint64) (*model.UserProfile, error)
}

type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

type userRecord struct {
	ID                uint64         `db:"id"`
	Email             string         `db:"email"`
	Role              string         `db:"role"`
	IsMember          bool           `db:"is_member"`
	GatewayCustomerID sql.NullString `db:"stripe_customer_id"`
}

// GetByID fetches a user profile by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.UserProfile, error) {
	var rec userRecord
	err := r.DB.GetContext(ctx, &rec,
		r.DB.Rebind("SELECT id, email, role, is_member, stripe_customer_id FROM users WHERE id = ? LIMIT 1"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model.UserProfile{
		ID:                rec.ID,
		Email:             rec.Email,
		Role:              rec.Role,
		IsMember:          rec.IsMember,
		GatewayCustomerID: nullStr(rec.GatewayCustomerID),
	}, nil
}
