package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrJamesThe3rd/ledger/internal/account"
	"github.com/MrJamesThe3rd/ledger/internal/apperr"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Expected column order: id, user_id, account_number, status, balance,
// registered_at, unregistered_at, created_at, updated_at
func scanAccount(s scanner) (*account.Account, error) {
	var a account.Account

	var status string

	if err := s.Scan(
		&a.ID, &a.OwnerID, &a.Number, &status, &a.Balance,
		&a.RegisteredAt, &a.UnregisteredAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	st, err := account.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scanning account %s: %w", a.Number, err)
	}

	a.Status = st

	return &a, nil
}

const selectAccountColumns = `
	id, user_id, account_number, status, balance,
	registered_at, unregistered_at, created_at, updated_at
`

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	query := `
		INSERT INTO accounts (user_id, account_number, status, balance, registered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		a.OwnerID,
		a.Number,
		a.Status,
		a.Balance,
		a.RegisteredAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("creating account %s: %w", a.Number, account.ErrNumberTaken)
		}

		return fmt.Errorf("creating account: %w", err)
	}

	return nil
}

func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*account.Account, error) {
	query := `SELECT ` + selectAccountColumns + ` FROM accounts WHERE account_number = $1`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrAccountNotFound
		}

		return nil, fmt.Errorf("getting account: %w", err)
	}

	return a, nil
}

func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID int64) ([]*account.Account, error) {
	query := `SELECT ` + selectAccountColumns + `
		FROM accounts
		WHERE user_id = $1
		ORDER BY account_number ASC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}

		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating account rows: %w", err)
	}

	return accounts, nil
}

func (s *Store) CountActiveByOwner(ctx context.Context, ownerID int64) (int, error) {
	query := `SELECT COUNT(*) FROM accounts WHERE user_id = $1 AND status = $2`

	var n int
	if err := s.db.QueryRowContext(ctx, query, ownerID, account.StatusInUse).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}

	return n, nil
}

func (s *Store) HighestAccountNumber(ctx context.Context) (string, error) {
	query := `SELECT MAX(account_number::BIGINT)::TEXT FROM accounts`

	var highest sql.NullString
	if err := s.db.QueryRowContext(ctx, query).Scan(&highest); err != nil {
		return "", fmt.Errorf("finding highest account number: %w", err)
	}

	return highest.String, nil
}

// UpdateBalance writes a.Balance unless the row was already written under a
// newer fence, in which case it returns account.ErrStaleLease.
func (s *Store) UpdateBalance(ctx context.Context, a *account.Account, fence int64) error {
	query := `
		UPDATE accounts
		SET balance = $1, fence_token = $2, updated_at = NOW()
		WHERE id = $3 AND fence_token <= $2
		RETURNING updated_at
	`

	err := s.db.QueryRowContext(ctx, query, a.Balance, fence, a.ID).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.ErrStaleLease
		}

		return fmt.Errorf("updating balance: %w", err)
	}

	return nil
}

func (s *Store) UnregisterAccount(ctx context.Context, a *account.Account, fence int64) error {
	query := `
		UPDATE accounts
		SET status = $1, unregistered_at = $2, fence_token = $3, updated_at = NOW()
		WHERE id = $4 AND fence_token <= $3
		RETURNING updated_at
	`

	err := s.db.QueryRowContext(ctx, query, a.Status, a.UnregisteredAt, fence, a.ID).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.ErrStaleLease
		}

		return fmt.Errorf("unregistering account: %w", err)
	}

	return nil
}
