package account

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/ledger/internal/account"
	"github.com/MrJamesThe3rd/ledger/internal/apperr"
	"github.com/MrJamesThe3rd/ledger/internal/http/respond"
)

type Handler struct {
	svc *account.Service
}

func NewHandler(svc *account.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Delete("/", h.delete)
	r.Get("/", h.list)
	r.Get("/{accountNumber}", h.get)
}

type createAccountRequest struct {
	UserID         int64 `json:"user_id" validate:"required,gt=0"`
	InitialBalance int64 `json:"initial_balance" validate:"gte=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	a, err := h.svc.Create(r.Context(), req.UserID, req.InitialBalance)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toResponse(a))
}

type deleteAccountRequest struct {
	UserID        int64  `json:"user_id" validate:"required,gt=0"`
	AccountNumber string `json:"account_number" validate:"required,min=10,max=19,numeric"`
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	a, err := h.svc.Delete(r.Context(), req.UserID, req.AccountNumber)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respond.Error(w, r, apperr.Newf(apperr.CodeInvalidRequest, "'user_id' query parameter is required"))
		return
	}

	accounts, err := h.svc.ListByOwner(r.Context(), userID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponseList(accounts))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), chi.URLParam(r, "accountNumber"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponse(a))
}
