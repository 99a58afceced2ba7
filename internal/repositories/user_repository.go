package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the platform's users table.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.UserRef, error)
	CompanyUserIDs(ctx context.Context, companyID int, userIDs []int) ([]int, error)
}

// UserRepo is a read-only sqlx implementation.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user's display projection.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.UserRef, error) {
	var user models.UserRef
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT id, name FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserRef{}, ErrUserNotFound
	}
	return user, err
}

// CompanyUserIDs returns the subset of userIDs that belong to the company.
func (r *UserRepo) CompanyUserIDs(ctx context.Context, companyID int, userIDs []int) ([]int, error) {
	if len(userIDs) == 0 {
		return []int{}, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM users WHERE company_id = ? AND id IN (?) ORDER BY id`, companyID, userIDs)
	if err != nil {
		return nil, err
	}
	ids := []int{}
	if err := r.db.SelectContext(ctx, &ids, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return ids, nil
}
