package account

import (
	"time"

	"github.com/MrJamesThe3rd/ledger/internal/account"
)

type accountResponse struct {
	UserID         int64          `json:"user_id"`
	AccountNumber  string         `json:"account_number"`
	Status         account.Status `json:"status"`
	Balance        int64          `json:"balance"`
	RegisteredAt   time.Time      `json:"registered_at"`
	UnregisteredAt *time.Time     `json:"unregistered_at,omitempty"`
}

func toResponse(a *account.Account) accountResponse {
	return accountResponse{
		UserID:         a.OwnerID,
		AccountNumber:  a.Number,
		Status:         a.Status,
		Balance:        a.Balance,
		RegisteredAt:   a.RegisteredAt,
		UnregisteredAt: a.UnregisteredAt,
	}
}

func toResponseList(accounts []*account.Account) []accountResponse {
	resp := make([]accountResponse, len(accounts))
	for i, a := range accounts {
		resp[i] = toResponse(a)
	}

	return resp
}
