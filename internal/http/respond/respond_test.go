package respond_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/http/respond"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "InvalidRequest", err: apperr.ErrInvalidRequest, want: http.StatusBadRequest},
		{name: "AccountNotFound", err: apperr.ErrAccountNotFound, want: http.StatusNotFound},
		{name: "TransactionNotFound", err: apperr.ErrTransactionNotFound, want: http.StatusNotFound},
		{name: "AmountExceedsBalance", err: apperr.ErrAmountExceedsBalance, want: http.StatusUnprocessableEntity},
		{name: "TooOldToCancel", err: apperr.ErrTooOldToCancel, want: http.StatusUnprocessableEntity},
		{name: "LockTimeout", err: apperr.ErrLockTimeout, want: http.StatusConflict},
		{name: "Fatal", err: apperr.ErrLedgerWriteFailedAfterMutation, want: http.StatusInternalServerError},
		{name: "Infra", err: apperr.Infra("getting account", errors.New("dial tcp")), want: http.StatusServiceUnavailable},
		{name: "Unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, respond.Status(tt.err))
		})
	}
}

func TestError_Body(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	respond.Error(rec, req, apperr.Newf(apperr.CodeAmountExceedsBalance, "amount 10000 exceeds balance 100"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body respond.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "AMOUNT_EXCEEDS_BALANCE", body.Code)
	assert.Equal(t, "amount 10000 exceeds balance 100", body.Message)
}

func TestError_InfraHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	respond.Error(rec, req, apperr.Infra("getting account", errors.New("password authentication failed")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecode(t *testing.T) {
	type payload struct {
		Name   string `json:"name" validate:"required"`
		Amount int64  `json:"amount" validate:"gt=0"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "Valid", body: `{"name":"a","amount":1}`},
		{name: "Malformed", body: `{"name":`, wantErr: "malformed body"},
		{name: "MissingName", body: `{"amount":1}`, wantErr: "'name' is required"},
		{name: "ZeroAmount", body: `{"name":"a","amount":0}`, wantErr: "'amount' must be greater than 0"},
		{name: "UnknownField", body: `{"name":"a","amount":1,"x":1}`, wantErr: "malformed body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var p payload

			err := respond.Decode(req, &p)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
