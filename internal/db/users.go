package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"account-console/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Users is the account store backing sign-in, sign-up and the dashboard.
type Users struct {
	db *DB
}

func NewUsers(db *DB) *Users {
	return &Users{db: db}
}

func (s *Users) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return s.get(ctx, `SELECT id, email, provider_id, COALESCE(role, ''), created_at, COALESCE(last_sign_in_at, created_at)
		FROM users WHERE email = $1`, email)
}

func (s *Users) GetByID(ctx context.Context, id string) (models.User, error) {
	return s.get(ctx, `SELECT id, email, provider_id, COALESCE(role, ''), created_at, COALESCE(last_sign_in_at, created_at)
		FROM users WHERE id = $1`, id)
}

func (s *Users) get(ctx context.Context, query, arg string) (models.User, error) {
	var u models.User
	err := s.db.Pool.QueryRow(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.ProviderID, &u.Role, &u.CreatedAt, &u.LastSignIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// Create inserts a new account linked to its provider identity. Role starts
// empty; role-gated surfaces stay closed until an operator assigns one.
func (s *Users) Create(ctx context.Context, email, providerID string) (models.User, error) {
	u := models.User{
		ID:         uuid.NewString(),
		Email:      email,
		ProviderID: providerID,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO users (id, email, provider_id, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.ProviderID, u.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Users) TouchSignIn(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx,
		`UPDATE users SET last_sign_in_at = now() WHERE id = $1`, id)
	return err
}

func (s *Users) UpdateRole(ctx context.Context, id, role string) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE users SET role = $2 WHERE id = $1`, id, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Users) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}
