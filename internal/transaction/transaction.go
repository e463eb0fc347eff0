package transaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of balance mutation a ledger entry records.
type Type string

const (
	TypeUse    Type = "use"
	TypeCancel Type = "cancel"
)

func (t Type) Valid() bool {
	switch t {
	case TypeUse, TypeCancel:
		return true
	}

	return false
}

// ParseType converts a stored value, rejecting anything outside the enum.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}

	return t, nil
}

// ResultType tells whether the attempt changed the balance.
type ResultType string

const (
	ResultSuccess ResultType = "success"
	ResultFailed  ResultType = "failed"
)

func (r ResultType) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailed:
		return true
	}

	return false
}

func ParseResultType(s string) (ResultType, error) {
	r := ResultType(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown transaction result %q", s)
	}

	return r, nil
}

// CancelWindow is how long after a use it can still be cancelled.
const CancelWindow = 1 // years

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID              uuid.UUID
	TransactionID   string
	AccountID       uuid.UUID
	AccountNumber   string
	Type            Type
	Result          ResultType
	Amount          int64 // Requested amount, also on failed entries
	BalanceSnapshot int64 // Balance after the entry was applied
	TransactedAt    time.Time
	// CancelsTransactionID is the use reversed by a cancel entry.
	CancelsTransactionID string
	CreatedAt            time.Time
}

// Cancellable reports whether t may be the target of a cancellation.
func (t *Transaction) Cancellable() bool {
	return t.Type == TypeUse && t.Result == ResultSuccess
}

// TooOldToCancel reports whether t happened before the cancel window at now.
func (t *Transaction) TooOldToCancel(now time.Time) bool {
	return t.TransactedAt.Before(now.AddDate(-CancelWindow, 0, 0))
}

// NewToken returns a fresh transaction token: a random UUID without dashes.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
