package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/ledger/internal/account"
	apihttp "github.com/MrJamesThe3rd/ledger/internal/http"
	accounthttp "github.com/MrJamesThe3rd/ledger/internal/http/account"
	transactionhttp "github.com/MrJamesThe3rd/ledger/internal/http/transaction"
	userhttp "github.com/MrJamesThe3rd/ledger/internal/http/user"
	"github.com/MrJamesThe3rd/ledger/internal/lock"
	"github.com/MrJamesThe3rd/ledger/internal/storage/memory"
	"github.com/MrJamesThe3rd/ledger/internal/transaction"
	"github.com/MrJamesThe3rd/ledger/internal/user"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newServer(t *testing.T, health map[string]apihttp.Pinger) *httptest.Server {
	t.Helper()

	return newServerWithStore(t, memory.New(), health)
}

func newServerWithStore(t *testing.T, store *memory.Store, health map[string]apihttp.Pinger) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locker := lock.NewLocal(lock.Options{TTL: 5 * time.Second, Wait: time.Second, RetryDelay: 10 * time.Millisecond})

	router := apihttp.New(
		userhttp.NewHandler(user.NewService(store)),
		accounthttp.NewHandler(account.NewService(store, store, locker, logger)),
		transactionhttp.NewHandler(transaction.NewService(store, store, store, locker, logger), logger),
		apihttp.Options{AllowedOrigins: []string{"*"}, Health: health},
	)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	var out map[string]any

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}

	return resp.StatusCode, out
}

func list(t *testing.T, srv *httptest.Server, path string) []map[string]any {
	t.Helper()

	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func TestRouter_BalanceLifecycle(t *testing.T) {
	srv := newServer(t, nil)

	status, u := do(t, srv, http.MethodPost, "/api/v1/users", map[string]any{"name": "Pobi"})
	require.Equal(t, http.StatusCreated, status)

	userID := u["id"]

	status, acc := do(t, srv, http.MethodPost, "/api/v1/accounts", map[string]any{"user_id": userID, "initial_balance": 10000})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "1000000000", acc["account_number"])

	number := acc["account_number"]

	status, use := do(t, srv, http.MethodPost, "/api/v1/transactions/use", map[string]any{
		"user_id": userID, "account_number": number, "amount": 800,
	})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 9200, use["balance_snapshot"])
	assert.Equal(t, "use", use["transaction_type"])
	assert.Equal(t, "success", use["transaction_result_type"])

	status, errBody := do(t, srv, http.MethodPost, "/api/v1/transactions/use", map[string]any{
		"user_id": userID, "account_number": number, "amount": 10000,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "AMOUNT_EXCEEDS_BALANCE", errBody["error_code"])

	status, errBody = do(t, srv, http.MethodPost, "/api/v1/transactions/cancel", map[string]any{
		"transaction_id": use["transaction_id"], "account_number": number, "amount": 500,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "CANCEL_MUST_BE_FULL", errBody["error_code"])

	status, cancel := do(t, srv, http.MethodPost, "/api/v1/transactions/cancel", map[string]any{
		"transaction_id": use["transaction_id"], "account_number": number, "amount": 800,
	})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 10000, cancel["balance_snapshot"])
	assert.Equal(t, use["transaction_id"], cancel["cancels_transaction_id"])

	status, got := do(t, srv, http.MethodGet, "/api/v1/transactions/"+use["transaction_id"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 800, got["amount"])

	ledger := list(t, srv, "/api/v1/transactions?account_number=1000000000")
	require.Len(t, ledger, 4)

	var failed int

	for _, tx := range ledger {
		if tx["transaction_result_type"] == "failed" {
			failed++

			assert.EqualValues(t, 9200, tx["balance_snapshot"])
		}
	}

	assert.Equal(t, 2, failed)

	status, errBody = do(t, srv, http.MethodDelete, "/api/v1/accounts", map[string]any{"user_id": userID, "account_number": number})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "BALANCE_NOT_EMPTY", errBody["error_code"])

	accounts := list(t, srv, "/api/v1/accounts?user_id=1")
	require.Len(t, accounts, 1)
	assert.EqualValues(t, 10000, accounts[0]["balance"])
}

func TestRouter_DeleteEmptyAccount(t *testing.T) {
	srv := newServer(t, nil)

	_, u := do(t, srv, http.MethodPost, "/api/v1/users", map[string]any{"name": "Crong"})
	_, acc := do(t, srv, http.MethodPost, "/api/v1/accounts", map[string]any{"user_id": u["id"], "initial_balance": 0})

	status, deleted := do(t, srv, http.MethodDelete, "/api/v1/accounts", map[string]any{"user_id": u["id"], "account_number": acc["account_number"]})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "unregistered", deleted["status"])
	assert.NotEmpty(t, deleted["unregistered_at"])

	status, errBody := do(t, srv, http.MethodDelete, "/api/v1/accounts", map[string]any{"user_id": u["id"], "account_number": acc["account_number"]})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "ACCOUNT_ALREADY_UNREGISTERED", errBody["error_code"])

	status, errBody = do(t, srv, http.MethodPost, "/api/v1/transactions/use", map[string]any{
		"user_id": u["id"], "account_number": acc["account_number"], "amount": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "ACCOUNT_ALREADY_UNREGISTERED", errBody["error_code"])
}

func TestRouter_AccountNumberPastTenDigits(t *testing.T) {
	store := memory.New()
	srv := newServerWithStore(t, store, nil)

	_, u := do(t, srv, http.MethodPost, "/api/v1/users", map[string]any{"name": "Jk"})
	userID := int64(u["id"].(float64))

	require.NoError(t, store.CreateAccount(context.Background(), &account.Account{
		OwnerID:      userID,
		Number:       "9999999999",
		Status:       account.StatusInUse,
		RegisteredAt: time.Now(),
	}))

	status, created := do(t, srv, http.MethodPost, "/api/v1/accounts", map[string]any{"user_id": userID, "initial_balance": 500})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "10000000000", created["account_number"])

	status, used := do(t, srv, http.MethodPost, "/api/v1/transactions/use",
		map[string]any{"user_id": userID, "account_number": "10000000000", "amount": 200})
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/transactions/cancel",
		map[string]any{"transaction_id": used["transaction_id"], "account_number": "10000000000", "amount": 200})
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, srv, http.MethodDelete, "/api/v1/accounts",
		map[string]any{"user_id": userID, "account_number": "10000000000"})
	assert.Equal(t, http.StatusUnprocessableEntity, status, "balance is not empty")
}

func TestRouter_Errors(t *testing.T) {
	srv := newServer(t, nil)

	_, u := do(t, srv, http.MethodPost, "/api/v1/users", map[string]any{"name": "Honux"})
	_, _ = do(t, srv, http.MethodPost, "/api/v1/accounts", map[string]any{"user_id": u["id"], "initial_balance": 100})

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "ZeroAmount",
			method:     http.MethodPost,
			path:       "/api/v1/transactions/use",
			body:       map[string]any{"user_id": u["id"], "account_number": "1000000000", "amount": 0},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "MalformedAccountNumber",
			method:     http.MethodPost,
			path:       "/api/v1/transactions/use",
			body:       map[string]any{"user_id": u["id"], "account_number": "12ab", "amount": 10},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "ShortAccountNumber",
			method:     http.MethodPost,
			path:       "/api/v1/transactions/use",
			body:       map[string]any{"user_id": u["id"], "account_number": "123456789", "amount": 10},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "UnknownAccount",
			method:     http.MethodPost,
			path:       "/api/v1/transactions/use",
			body:       map[string]any{"user_id": u["id"], "account_number": "1999999999", "amount": 10},
			wantStatus: http.StatusNotFound,
			wantCode:   "ACCOUNT_NOT_FOUND",
		},
		{
			name:       "UnknownUser",
			method:     http.MethodPost,
			path:       "/api/v1/transactions/use",
			body:       map[string]any{"user_id": 99, "account_number": "1000000000", "amount": 10},
			wantStatus: http.StatusNotFound,
			wantCode:   "USER_NOT_FOUND",
		},
		{
			name:       "UnknownTransaction",
			method:     http.MethodGet,
			path:       "/api/v1/transactions/ffffffffffffffffffffffffffffffff",
			wantStatus: http.StatusNotFound,
			wantCode:   "TRANSACTION_NOT_FOUND",
		},
		{
			name:       "CancelUnknownTransaction",
			method:     http.MethodPost,
			path:       "/api/v1/transactions/cancel",
			body:       map[string]any{"transaction_id": "nope", "account_number": "1000000000", "amount": 10},
			wantStatus: http.StatusNotFound,
			wantCode:   "TRANSACTION_NOT_FOUND",
		},
		{
			name:       "NegativeInitialBalance",
			method:     http.MethodPost,
			path:       "/api/v1/accounts",
			body:       map[string]any{"user_id": u["id"], "initial_balance": -1},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "UnknownField",
			method:     http.MethodPost,
			path:       "/api/v1/users",
			body:       map[string]any{"name": "x", "email": "x@example.com"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "ListWithoutUser",
			method:     http.MethodGet,
			path:       "/api/v1/accounts",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body["error_code"])
			assert.NotEmpty(t, body["error_message"])
		})
	}

	// Rejections against the existing account are recorded; malformed
	// requests and unknown accounts are not.
	ledger := list(t, srv, "/api/v1/transactions?account_number=1000000000")
	require.Len(t, ledger, 2)
	assert.Equal(t, "use", ledger[0]["transaction_type"])
	assert.Equal(t, "cancel", ledger[1]["transaction_type"])

	for _, tx := range ledger {
		assert.Equal(t, "failed", tx["transaction_result_type"])
		assert.EqualValues(t, 100, tx["balance_snapshot"])
	}
}

func TestRouter_MaxAccountsPerUser(t *testing.T) {
	srv := newServer(t, nil)

	_, u := do(t, srv, http.MethodPost, "/api/v1/users", map[string]any{"name": "Jk"})

	for i := 0; i < account.MaxActivePerOwner; i++ {
		status, acc := do(t, srv, http.MethodPost, "/api/v1/accounts", map[string]any{"user_id": u["id"], "initial_balance": 0})
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, strconv.Itoa(1000000000+i), acc["account_number"])
	}

	status, errBody := do(t, srv, http.MethodPost, "/api/v1/accounts", map[string]any{"user_id": u["id"], "initial_balance": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "MAX_ACCOUNTS_PER_USER", errBody["error_code"])
}

func TestRouter_Health(t *testing.T) {
	srv := newServer(t, map[string]apihttp.Pinger{"storage": memory.New()})

	status, body := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["storage"])

	srv = newServer(t, map[string]apihttp.Pinger{"lock": failingPinger{}})

	status, body = do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "connection refused", body["lock"])
}
