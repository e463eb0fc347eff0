package account

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
)

// Status is the registration state of an account. It only moves from
// StatusInUse to StatusUnregistered.
type Status string

const (
	StatusInUse        Status = "in_use"
	StatusUnregistered Status = "unregistered"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInUse, StatusUnregistered:
		return true
	}

	return false
}

// ParseStatus converts a stored value, rejecting anything outside the enum.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown account status %q", s)
	}

	return st, nil
}

const (
	// FirstNumber is assigned when no account exists yet.
	FirstNumber = "1000000000"
	// MaxActivePerOwner caps the in-use accounts a single user may hold.
	MaxActivePerOwner = 10
)

var (
	// ErrStaleLease is returned by stores when a write carries a fence older
	// than the last one applied to the row.
	ErrStaleLease = errors.New("account was written under a newer lease")
	// ErrNumberTaken is returned by stores when an account number is already assigned.
	ErrNumberTaken = errors.New("account number already assigned")
)

// Account holds a balance in minor currency units.
type Account struct {
	ID             uuid.UUID
	OwnerID        int64
	Number         string
	Status         Status
	Balance        int64
	RegisteredAt   time.Time
	UnregisteredAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// Debit removes amount from the balance, refusing to go below zero.
func (a *Account) Debit(amount int64) error {
	if amount > a.Balance {
		return apperr.Newf(apperr.CodeAmountExceedsBalance, "amount %d exceeds balance %d", amount, a.Balance)
	}

	a.Balance -= amount

	return nil
}

// Credit adds amount back to the balance.
func (a *Account) Credit(amount int64) {
	a.Balance += amount
}

// Unregister marks the account as closed at the given time.
func (a *Account) Unregister(at time.Time) {
	a.Status = StatusUnregistered
	a.UnregisteredAt = &at
}

// NextNumber returns the number following highest, or FirstNumber when
// highest is empty.
func NextNumber(highest string) (string, error) {
	if highest == "" {
		return FirstNumber, nil
	}

	n, err := strconv.ParseUint(highest, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parsing account number %q: %w", highest, err)
	}

	return strconv.FormatUint(n+1, 10), nil
}
