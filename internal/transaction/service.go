package transaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrJamesThe3rd/ledger/internal/account"
	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/lock"
	"github.com/MrJamesThe3rd/ledger/internal/user"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=transaction
type Repository interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	// GetTransaction returns apperr.ErrTransactionNotFound for an unknown token.
	GetTransaction(ctx context.Context, transactionID string) (*Transaction, error)
	// HasCancellation reports whether a successful cancel already reverses transactionID.
	HasCancellation(ctx context.Context, transactionID string) (bool, error)
	ListTransactionsByAccount(ctx context.Context, accountNumber string) ([]*Transaction, error)
}

type AccountStore interface {
	GetAccountByNumber(ctx context.Context, number string) (*account.Account, error)
	// UpdateBalance returns account.ErrStaleLease when the row was written under a newer fence.
	UpdateBalance(ctx context.Context, a *account.Account, fence int64) error
}

type UserStore interface {
	GetUser(ctx context.Context, id int64) (*user.User, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (*lock.Lease, error)
	Release(ctx context.Context, lease *lock.Lease) error
}

// Service is the balance-transaction engine. It serializes use and cancel
// requests per account, applies them, and appends every attempt to the ledger.
type Service struct {
	repo     Repository
	accounts AccountStore
	users    UserStore
	locker   Locker
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, accounts AccountStore, users UserStore, locker Locker, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		users:    users,
		locker:   locker,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source. It is meant for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// UseBalance deducts amount from the account owned by userID.
func (s *Service) UseBalance(ctx context.Context, userID int64, accountNumber string, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "amount must be positive")
	}

	lease, err := s.acquire(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	a, err := s.accounts.GetAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, apperr.Infra("getting account", err)
	}

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Infra("getting user", err)
	}

	if err := validateUse(u, a, amount); err != nil {
		return nil, err
	}

	if err := a.Debit(amount); err != nil {
		return nil, err
	}

	return s.commit(ctx, lease, a, &Transaction{Type: TypeUse, Amount: amount})
}

func validateUse(u *user.User, a *account.Account, amount int64) error {
	if u.ID != a.OwnerID {
		return apperr.New(apperr.CodeUserAccountMismatch)
	}

	if a.Status != account.StatusInUse {
		return apperr.New(apperr.CodeAccountAlreadyUnregistered)
	}

	if amount > a.Balance {
		return apperr.Newf(apperr.CodeAmountExceedsBalance, "amount %d exceeds balance %d", amount, a.Balance)
	}

	return nil
}

// CancelBalance reverses the use identified by transactionID in full.
func (s *Service) CancelBalance(ctx context.Context, transactionID, accountNumber string, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "amount must be positive")
	}

	lease, err := s.acquire(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	original, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, apperr.Infra("getting transaction", err)
	}

	a, err := s.accounts.GetAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, apperr.Infra("getting account", err)
	}

	if err := validateCancel(original, a, amount, s.now()); err != nil {
		return nil, err
	}

	cancelled, err := s.repo.HasCancellation(ctx, original.TransactionID)
	if err != nil {
		return nil, apperr.Infra("checking cancellation", err)
	}

	if cancelled {
		return nil, apperr.Newf(apperr.CodeTransactionNotCancellable, "transaction %s is already cancelled", original.TransactionID)
	}

	a.Credit(amount)

	return s.commit(ctx, lease, a, &Transaction{
		Type:                 TypeCancel,
		Amount:               amount,
		CancelsTransactionID: original.TransactionID,
	})
}

func validateCancel(original *Transaction, a *account.Account, amount int64, now time.Time) error {
	if original.AccountID != a.ID {
		return apperr.New(apperr.CodeTransactionAccountMismatch)
	}

	if amount != original.Amount {
		return apperr.Newf(apperr.CodeCancelMustBeFull, "cancel amount %d differs from original amount %d", amount, original.Amount)
	}

	if original.TooOldToCancel(now) {
		return apperr.New(apperr.CodeTooOldToCancel)
	}

	if !original.Cancellable() {
		return apperr.Newf(apperr.CodeTransactionNotCancellable, "only successful use transactions can be cancelled")
	}

	return nil
}

// commit persists the mutated balance under the lease fence and then
// appends tx. Both writes ignore caller cancellation once started; a ledger
// failure after the balance write is fatal.
func (s *Service) commit(ctx context.Context, lease *lock.Lease, a *account.Account, tx *Transaction) (*Transaction, error) {
	persist := context.WithoutCancel(ctx)

	now := s.now()
	if lease.Expired(now) {
		s.logger.WarnContext(ctx, "lease expired before commit", "account_number", a.Number)
		return nil, apperr.Newf(apperr.CodeLockTimeout, "lease on account %s expired before commit", a.Number)
	}

	if err := s.accounts.UpdateBalance(persist, a, lease.Fence); err != nil {
		if errors.Is(err, account.ErrStaleLease) {
			s.logger.WarnContext(ctx, "balance write rejected for stale lease", "account_number", a.Number, "fence", lease.Fence)
			return nil, apperr.Wrap(apperr.CodeLockTimeout, err)
		}

		return nil, apperr.Infra("updating balance", err)
	}

	tx.TransactionID = NewToken()
	tx.AccountID = a.ID
	tx.AccountNumber = a.Number
	tx.Result = ResultSuccess
	tx.BalanceSnapshot = a.Balance
	tx.TransactedAt = now

	if err := s.repo.CreateTransaction(persist, tx); err != nil {
		s.logger.ErrorContext(ctx, "ledger write failed after balance mutation",
			"account_number", a.Number,
			"transaction_id", tx.TransactionID,
			"type", tx.Type,
			"amount", tx.Amount,
			"balance", a.Balance,
			"error", err,
		)

		return nil, apperr.Wrap(apperr.CodeLedgerWriteFailedAfterMutation, err)
	}

	s.logger.InfoContext(ctx, "balance mutated",
		"account_number", a.Number,
		"transaction_id", tx.TransactionID,
		"type", tx.Type,
		"amount", tx.Amount,
	)

	return tx, nil
}

// RecordFailedUse appends a failed use entry carrying the account's current balance.
func (s *Service) RecordFailedUse(ctx context.Context, accountNumber string, amount int64) (*Transaction, error) {
	return s.recordFailed(ctx, TypeUse, accountNumber, amount)
}

// RecordFailedCancel appends a failed cancel entry carrying the account's current balance.
func (s *Service) RecordFailedCancel(ctx context.Context, accountNumber string, amount int64) (*Transaction, error) {
	return s.recordFailed(ctx, TypeCancel, accountNumber, amount)
}

func (s *Service) recordFailed(ctx context.Context, typ Type, accountNumber string, amount int64) (*Transaction, error) {
	a, err := s.accounts.GetAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, apperr.Infra("getting account", err)
	}

	tx := &Transaction{
		TransactionID:   NewToken(),
		AccountID:       a.ID,
		AccountNumber:   a.Number,
		Type:            typ,
		Result:          ResultFailed,
		Amount:          amount,
		BalanceSnapshot: a.Balance,
		TransactedAt:    s.now(),
	}

	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, apperr.Infra("recording failed transaction", err)
	}

	return tx, nil
}

func (s *Service) QueryTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, apperr.Infra("getting transaction", err)
	}

	return tx, nil
}

// ListByAccount returns the account's ledger, oldest entry first.
func (s *Service) ListByAccount(ctx context.Context, accountNumber string) ([]*Transaction, error) {
	if _, err := s.accounts.GetAccountByNumber(ctx, accountNumber); err != nil {
		return nil, apperr.Infra("getting account", err)
	}

	txs, err := s.repo.ListTransactionsByAccount(ctx, accountNumber)
	if err != nil {
		return nil, apperr.Infra("listing transactions", err)
	}

	return txs, nil
}

func (s *Service) acquire(ctx context.Context, accountNumber string) (*lock.Lease, error) {
	lease, err := s.locker.Acquire(ctx, lock.AccountKey(accountNumber))
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			s.logger.WarnContext(ctx, "timed out waiting for account lock", "account_number", accountNumber)
		}

		return nil, lock.AppError(err)
	}

	return lease, nil
}

func (s *Service) release(ctx context.Context, lease *lock.Lease) {
	if err := s.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
		s.logger.ErrorContext(ctx, "failed to release lock", "lock_key", lease.Key, "error", err)
	}
}
