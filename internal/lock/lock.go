// Package lock provides exclusive, time-bounded leases keyed by a business
// identifier such as an account number.
//
// A Lease carries a random Token identifying the holder and a Fence that
// grows with every grant, so a store can refuse a write coming from a
// holder whose lease has already been superseded.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
)

var (
	// ErrTimeout is returned when a lease could not be obtained within the configured wait.
	ErrTimeout = errors.New("lock wait timed out")
	// ErrEmptyKey is returned for a blank lock key.
	ErrEmptyKey = errors.New("lock key cannot be empty")
)

// Options bounds lease lifetime and acquisition.
type Options struct {
	// TTL is how long a lease stays valid without being released.
	TTL time.Duration
	// Wait is the longest Acquire blocks before returning ErrTimeout.
	Wait time.Duration
	// RetryDelay is the pause between attempts for backings that poll.
	RetryDelay time.Duration
}

// DefaultOptions are sized for critical sections that may take a few seconds of store I/O.
func DefaultOptions() Options {
	return Options{
		TTL:        30 * time.Second,
		Wait:       15 * time.Second,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Lease is an exclusive hold on Key.
type Lease struct {
	Key       string
	Token     string
	Fence     int64
	ExpiresAt time.Time
}

// Expired reports whether the lease TTL has elapsed at now.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// FenceFloor is the lowest fence a backing may issue at now. Every backing
// starts its counters here, so fences keep growing when a counter is lost
// or the deployment moves to another backing.
func FenceFloor(now time.Time) int64 {
	return now.UnixNano()
}

// Coordinator grants leases. Implementations must be safe for concurrent use.
type Coordinator interface {
	Acquire(ctx context.Context, key string) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// AccountKey is the lock key guarding mutations of one account.
func AccountKey(accountNumber string) string {
	return "account:" + accountNumber
}

// AccountCreationKey serializes account number assignment.
const AccountCreationKey = "accounts:create"

// AppError maps an Acquire failure onto the caller-visible error kinds:
// a wait timeout is a LockTimeout, anything else is an infrastructure failure.
func AppError(err error) error {
	if errors.Is(err, ErrTimeout) {
		return apperr.Wrap(apperr.CodeLockTimeout, err)
	}

	return apperr.Infra("acquiring lock", err)
}
