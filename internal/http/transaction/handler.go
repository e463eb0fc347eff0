package transaction

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/http/respond"
	"github.com/MrJamesThe3rd/ledger/internal/transaction"
)

type Handler struct {
	svc    *transaction.Service
	logger *slog.Logger
}

func NewHandler(svc *transaction.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/use", h.use)
	r.Post("/cancel", h.cancel)
	r.Get("/", h.list)
	r.Get("/{transactionId}", h.get)
}

type useRequest struct {
	UserID        int64  `json:"user_id" validate:"required,gt=0"`
	AccountNumber string `json:"account_number" validate:"required,min=10,max=19,numeric"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
}

type cancelRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,max=64"`
	AccountNumber string `json:"account_number" validate:"required,min=10,max=19,numeric"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) use(w http.ResponseWriter, r *http.Request) {
	var req useRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	tx, err := h.svc.UseBalance(r.Context(), req.UserID, req.AccountNumber, req.Amount)
	if err != nil {
		h.recordFailure(r.Context(), err, func(ctx context.Context) (*transaction.Transaction, error) {
			return h.svc.RecordFailedUse(ctx, req.AccountNumber, req.Amount)
		})
		respond.Error(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	tx, err := h.svc.CancelBalance(r.Context(), req.TransactionID, req.AccountNumber, req.Amount)
	if err != nil {
		h.recordFailure(r.Context(), err, func(ctx context.Context) (*transaction.Transaction, error) {
			return h.svc.RecordFailedCancel(ctx, req.AccountNumber, req.Amount)
		})
		respond.Error(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, toResponse(tx))
}

// recordFailure appends a failed ledger entry for a rejected use or cancel.
// Malformed requests and fatal errors are not recorded.
func (h *Handler) recordFailure(ctx context.Context, cause error, record func(context.Context) (*transaction.Transaction, error)) {
	if errors.Is(cause, apperr.ErrInvalidRequest) || apperr.IsFatal(cause) {
		return
	}

	tx, err := record(context.WithoutCancel(ctx))
	if err != nil {
		if errors.Is(err, apperr.ErrAccountNotFound) {
			h.logger.InfoContext(ctx, "failed attempt not recorded, account does not exist", "cause", cause)
			return
		}

		h.logger.ErrorContext(ctx, "failed to record failed transaction", "cause", cause, "error", err)

		return
	}

	h.logger.InfoContext(ctx, "failed transaction recorded",
		"transaction_id", tx.TransactionID,
		"account_number", tx.AccountNumber,
		"type", tx.Type,
		"cause", cause,
	)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.QueryTransaction(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("account_number")
	if number == "" {
		respond.Error(w, r, apperr.Newf(apperr.CodeInvalidRequest, "'account_number' query parameter is required"))
		return
	}

	txs, err := h.svc.ListByAccount(r.Context(), number)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponseList(txs))
}
