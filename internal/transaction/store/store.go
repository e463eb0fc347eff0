package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/transaction"
)

// Store is the Postgres ledger. Rows are only ever inserted.
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

// scanTransaction reads a ledger row joined with its account number.
// Expected column order: id, transaction_id, account_id, account_number, type, result_type,
// amount, balance_snapshot, transacted_at, cancels_transaction_id, created_at
func scanTransaction(s scanner) (*transaction.Transaction, error) {
	var tx transaction.Transaction

	var typeStr, resultStr string

	var cancels sql.NullString

	if err := s.Scan(
		&tx.ID, &tx.TransactionID, &tx.AccountID, &tx.AccountNumber, &typeStr, &resultStr,
		&tx.Amount, &tx.BalanceSnapshot, &tx.TransactedAt, &cancels, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	typ, err := transaction.ParseType(typeStr)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction %s: %w", tx.TransactionID, err)
	}

	result, err := transaction.ParseResultType(resultStr)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction %s: %w", tx.TransactionID, err)
	}

	tx.Type = typ
	tx.Result = result
	tx.CancelsTransactionID = cancels.String

	return &tx, nil
}

const selectTransactionColumns = `
	t.id, t.transaction_id, t.account_id, a.account_number, t.type, t.result_type,
	t.amount, t.balance_snapshot, t.transacted_at, t.cancels_transaction_id, t.created_at
`

func (s *Store) CreateTransaction(ctx context.Context, tx *transaction.Transaction) error {
	query := `
		INSERT INTO transactions (
			transaction_id, account_id, type, result_type, amount,
			balance_snapshot, transacted_at, cancels_transaction_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`

	var cancels sql.NullString
	if tx.CancelsTransactionID != "" {
		cancels = sql.NullString{String: tx.CancelsTransactionID, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		tx.TransactionID,
		tx.AccountID,
		tx.Type,
		tx.Result,
		tx.Amount,
		tx.BalanceSnapshot,
		tx.TransactedAt,
		cancels,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating transaction: %w", err)
	}

	return nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + `
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE t.transaction_id = $1`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrTransactionNotFound
		}

		return nil, fmt.Errorf("getting transaction: %w", err)
	}

	return tx, nil
}

func (s *Store) HasCancellation(ctx context.Context, transactionID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE cancels_transaction_id = $1 AND type = $2 AND result_type = $3
		)
	`

	var exists bool

	err := s.db.QueryRowContext(ctx, query,
		transactionID,
		transaction.TypeCancel,
		transaction.ResultSuccess,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking cancellation: %w", err)
	}

	return exists, nil
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountNumber string) ([]*transaction.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + `
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE a.account_number = $1
		ORDER BY t.transacted_at ASC, t.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.Transaction

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}

		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transaction rows: %w", err)
	}

	return txs, nil
}
