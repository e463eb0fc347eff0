package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/user"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (name, created_at)
		VALUES ($1, NOW())
		RETURNING id, created_at
	`

	if err := s.db.QueryRowContext(ctx, query, u.Name).Scan(&u.ID, &u.CreatedAt); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*user.User, error) {
	query := `SELECT id, name, created_at FROM users WHERE id = $1`

	var u user.User

	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}

		return nil, fmt.Errorf("getting user: %w", err)
	}

	return &u, nil
}
