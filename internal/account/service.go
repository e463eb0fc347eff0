package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/lock"
	"github.com/MrJamesThe3rd/ledger/internal/user"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=account
type Repository interface {
	CreateAccount(ctx context.Context, a *Account) error
	// GetAccountByNumber returns apperr.ErrAccountNotFound when absent.
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID int64) ([]*Account, error)
	CountActiveByOwner(ctx context.Context, ownerID int64) (int, error)
	// HighestAccountNumber returns "" when no account exists.
	HighestAccountNumber(ctx context.Context) (string, error)
	UnregisterAccount(ctx context.Context, a *Account, fence int64) error
}

type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*user.User, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (*lock.Lease, error)
	Release(ctx context.Context, lease *lock.Lease) error
}

// Service owns the account lifecycle: opening, closing and listing accounts.
type Service struct {
	repo   Repository
	users  UserRepository
	locker Locker
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, users UserRepository, locker Locker, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
}

// Create opens an account for ownerID. Number assignment runs under a
// single creation lease so concurrent creations never pick the same number.
func (s *Service) Create(ctx context.Context, ownerID, initialBalance int64) (*Account, error) {
	if initialBalance < 0 {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "initial balance must not be negative")
	}

	if _, err := s.users.GetUser(ctx, ownerID); err != nil {
		return nil, apperr.Infra("getting user", err)
	}

	lease, err := s.locker.Acquire(ctx, lock.AccountCreationKey)
	if err != nil {
		return nil, lock.AppError(err)
	}
	defer s.release(ctx, lease)

	count, err := s.repo.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Infra("counting accounts", err)
	}

	if count >= MaxActivePerOwner {
		return nil, apperr.New(apperr.CodeMaxAccountsPerUser)
	}

	highest, err := s.repo.HighestAccountNumber(ctx)
	if err != nil {
		return nil, apperr.Infra("finding highest account number", err)
	}

	number, err := NextNumber(highest)
	if err != nil {
		return nil, apperr.Infra("assigning account number", err)
	}

	a := &Account{
		OwnerID:      ownerID,
		Number:       number,
		Status:       StatusInUse,
		Balance:      initialBalance,
		RegisteredAt: s.now(),
	}

	if err := s.repo.CreateAccount(ctx, a); err != nil {
		return nil, apperr.Infra("creating account", err)
	}

	s.logger.InfoContext(ctx, "account created", "account_number", a.Number, "user_id", ownerID)

	return a, nil
}

// Delete unregisters the account. It takes the account's lease so it cannot
// interleave with a balance mutation.
func (s *Service) Delete(ctx context.Context, ownerID int64, number string) (*Account, error) {
	u, err := s.users.GetUser(ctx, ownerID)
	if err != nil {
		return nil, apperr.Infra("getting user", err)
	}

	lease, err := s.locker.Acquire(ctx, lock.AccountKey(number))
	if err != nil {
		return nil, lock.AppError(err)
	}
	defer s.release(ctx, lease)

	a, err := s.repo.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, apperr.Infra("getting account", err)
	}

	if err := validateDelete(u, a); err != nil {
		return nil, err
	}

	now := s.now()
	if lease.Expired(now) {
		return nil, apperr.Newf(apperr.CodeLockTimeout, "lease expired before unregistering %s", number)
	}

	a.Unregister(now)

	if err := s.repo.UnregisterAccount(ctx, a, lease.Fence); err != nil {
		if errors.Is(err, ErrStaleLease) {
			return nil, apperr.Wrap(apperr.CodeLockTimeout, err)
		}

		return nil, apperr.Infra("unregistering account", err)
	}

	s.logger.InfoContext(ctx, "account unregistered", "account_number", a.Number, "user_id", ownerID)

	return a, nil
}

func validateDelete(u *user.User, a *Account) error {
	if u.ID != a.OwnerID {
		return apperr.New(apperr.CodeUserAccountMismatch)
	}

	if a.Status == StatusUnregistered {
		return apperr.New(apperr.CodeAccountAlreadyUnregistered)
	}

	if a.Balance > 0 {
		return apperr.New(apperr.CodeBalanceNotEmpty)
	}

	return nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]*Account, error) {
	if _, err := s.users.GetUser(ctx, ownerID); err != nil {
		return nil, apperr.Infra("getting user", err)
	}

	accounts, err := s.repo.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Infra("listing accounts", err)
	}

	return accounts, nil
}

func (s *Service) Get(ctx context.Context, number string) (*Account, error) {
	a, err := s.repo.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, apperr.Infra("getting account", err)
	}

	return a, nil
}

func (s *Service) release(ctx context.Context, lease *lock.Lease) {
	if err := s.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
		s.logger.ErrorContext(ctx, "failed to release lock", "lock_key", lease.Key, "error", err)
	}
}
