package transaction

import (
	"time"

	"github.com/MrJamesThe3rd/ledger/internal/transaction"
)

type transactionResponse struct {
	TransactionID        string                 `json:"transaction_id"`
	AccountNumber        string                 `json:"account_number"`
	Type                 transaction.Type       `json:"transaction_type"`
	Result               transaction.ResultType `json:"transaction_result_type"`
	Amount               int64                  `json:"amount"`
	BalanceSnapshot      int64                  `json:"balance_snapshot"`
	TransactedAt         time.Time              `json:"transacted_at"`
	CancelsTransactionID string                 `json:"cancels_transaction_id,omitempty"`
}

func toResponse(tx *transaction.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID:        tx.TransactionID,
		AccountNumber:        tx.AccountNumber,
		Type:                 tx.Type,
		Result:               tx.Result,
		Amount:               tx.Amount,
		BalanceSnapshot:      tx.BalanceSnapshot,
		TransactedAt:         tx.TransactedAt,
		CancelsTransactionID: tx.CancelsTransactionID,
	}
}

func toResponseList(txs []*transaction.Transaction) []transactionResponse {
	resp := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		resp[i] = toResponse(tx)
	}

	return resp
}
