package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohsenfayyazi/billder/internal/model"
)

type UserRepository struct {
	DB *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{DB: db}
}

// Create inserts a new user and returns the created userid
func (r *UserRepository) Create(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	query := `
		INSERT INTO users (email, passwordhash, role, firstname, lastname, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING userid
	`
	if err := r.DB.QueryRow(ctx, query,
		u.Email, u.PasswordHash, u.Role, u.FirstName, u.LastName,
	).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	query := `
		SELECT userid, email, passwordhash, role, firstname, lastname, created_at, deleted_at
		FROM users
		WHERE email=$1 AND deleted_at IS NULL
	`
	err := r.DB.QueryRow(ctx, query, email).Scan(
		&u.UserID, &u.Email, &u.PasswordHash, &u.Role,
		&u.FirstName, &u.LastName, &u.CreatedAt, &u.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	query := `
		SELECT userid, email, role, firstname, lastname, created_at, deleted_at
		FROM users
		WHERE userid=$1 AND deleted_at IS NULL
	`
	err := r.DB.QueryRow(ctx, query, id).Scan(
		&u.UserID, &u.Email, &u.Role,
		&u.FirstName, &u.LastName, &u.CreatedAt, &u.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`
	if err := r.DB.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
