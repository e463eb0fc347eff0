// Package memory keeps users, accounts and the ledger in process memory.
// It backs single-instance deployments and the engine's concurrency tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/ledger/internal/account"
	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/transaction"
	"github.com/MrJamesThe3rd/ledger/internal/user"
)

type accountRow struct {
	account account.Account
	fence   int64
}

// Store is safe for concurrent use. Values are copied in and out so callers
// never share memory with the stored rows.
type Store struct {
	mu sync.RWMutex

	lastUserID   int64
	users        map[int64]user.User
	accounts     map[uuid.UUID]*accountRow
	byNumber     map[string]uuid.UUID
	transactions map[string]transaction.Transaction
	order        []string          // tokens in write order
	cancelled    map[string]string // use token -> cancel token

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:        make(map[int64]user.User),
		accounts:     make(map[uuid.UUID]*accountRow),
		byNumber:     make(map[string]uuid.UUID),
		transactions: make(map[string]transaction.Transaction),
		cancelled:    make(map[string]string),
		now:          time.Now,
	}
}

func (s *Store) CreateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUserID++
	u.ID = s.lastUserID
	u.CreatedAt = s.now()
	s.users[u.ID] = *u

	return nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}

	return &u, nil
}

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byNumber[a.Number]; taken {
		return fmt.Errorf("creating account %s: %w", a.Number, account.ErrNumberTaken)
	}

	a.ID = uuid.New()
	a.CreatedAt = s.now()

	s.accounts[a.ID] = &accountRow{account: *a}
	s.byNumber[a.Number] = a.ID

	return nil
}

func (s *Store) GetAccountByNumber(_ context.Context, number string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, apperr.ErrAccountNotFound
	}

	a := s.accounts[id].account

	return &a, nil
}

func (s *Store) ListAccountsByOwner(_ context.Context, ownerID int64) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []*account.Account

	for _, row := range s.accounts {
		if row.account.OwnerID != ownerID {
			continue
		}

		a := row.account
		accounts = append(accounts, &a)
	}

	slices.SortFunc(accounts, func(a, b *account.Account) int {
		if c := cmp.Compare(len(a.Number), len(b.Number)); c != 0 {
			return c
		}

		return strings.Compare(a.Number, b.Number)
	})

	return accounts, nil
}

func (s *Store) CountActiveByOwner(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0

	for _, row := range s.accounts {
		if row.account.OwnerID == ownerID && row.account.Status == account.StatusInUse {
			n++
		}
	}

	return n, nil
}

func (s *Store) HighestAccountNumber(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		highest uint64
		found   bool
	)

	for number := range s.byNumber {
		n, err := strconv.ParseUint(number, 10, 64)
		if err != nil {
			continue
		}

		if !found || n > highest {
			highest = n
			found = true
		}
	}

	if !found {
		return "", nil
	}

	return strconv.FormatUint(highest, 10), nil
}

func (s *Store) UpdateBalance(_ context.Context, a *account.Account, fence int64) error {
	return s.writeAccount(a.ID, fence, func(row *account.Account) {
		row.Balance = a.Balance
	}, a)
}

func (s *Store) UnregisterAccount(_ context.Context, a *account.Account, fence int64) error {
	return s.writeAccount(a.ID, fence, func(row *account.Account) {
		row.Status = a.Status
		row.UnregisteredAt = a.UnregisteredAt
	}, a)
}

// writeAccount applies mutate unless the row was last written under a newer fence.
func (s *Store) writeAccount(id uuid.UUID, fence int64, mutate func(*account.Account), out *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.accounts[id]
	if !ok {
		return apperr.ErrAccountNotFound
	}

	if fence < row.fence {
		return account.ErrStaleLease
	}

	mutate(&row.account)

	now := s.now()
	row.account.UpdatedAt = &now
	row.fence = fence
	out.UpdatedAt = &now

	return nil
}

func (s *Store) CreateTransaction(_ context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.transactions[tx.TransactionID]; dup {
		return fmt.Errorf("creating transaction: token %s already used", tx.TransactionID)
	}

	tx.ID = uuid.New()
	tx.CreatedAt = s.now()
	s.transactions[tx.TransactionID] = *tx
	s.order = append(s.order, tx.TransactionID)

	if tx.Type == transaction.TypeCancel && tx.Result == transaction.ResultSuccess && tx.CancelsTransactionID != "" {
		s.cancelled[tx.CancelsTransactionID] = tx.TransactionID
	}

	return nil
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[transactionID]
	if !ok {
		return nil, apperr.ErrTransactionNotFound
	}

	return &tx, nil
}

func (s *Store) HasCancellation(_ context.Context, transactionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.cancelled[transactionID]

	return ok, nil
}

// ListTransactionsByAccount returns every ledger entry of the account in the order they were written.
func (s *Store) ListTransactionsByAccount(_ context.Context, accountNumber string) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []*transaction.Transaction

	for _, token := range s.order {
		tx := s.transactions[token]
		if tx.AccountNumber != accountNumber {
			continue
		}

		txs = append(txs, &tx)
	}

	return txs, nil
}

// Ping satisfies the health check contract.
func (s *Store) Ping(context.Context) error {
	return nil
}
