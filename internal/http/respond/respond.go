// Package respond holds the JSON encoding, decoding and error rendering
// shared by the HTTP handlers.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
)

const (
	codeInfrastructure = "INFRASTRUCTURE_UNAVAILABLE"
	codeInternal       = "INTERNAL_ERROR"
)

type ErrorBody struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}

			return name
		})
	})

	return validate
}

// Decode reads a JSON body into dst and validates its struct tags. Any
// failure is returned as an InvalidRequest error.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return apperr.Newf(apperr.CodeInvalidRequest, "malformed body: %v", err)
	}

	if err := getValidator().Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return apperr.Newf(apperr.CodeInvalidRequest, "%s", describe(fieldErrs[0]))
		}

		return apperr.Newf(apperr.CodeInvalidRequest, "%v", err)
	}

	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", fe.Field())
	case "gt":
		return fmt.Sprintf("'%s' must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("'%s' must be at least %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("'%s' must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("'%s' must be at most %s characters", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("'%s' must contain only digits", fe.Field())
	case "len":
		return fmt.Sprintf("'%s' must be %s characters long", fe.Field(), fe.Param())
	}

	return fmt.Sprintf("'%s' failed '%s' validation", fe.Field(), fe.Tag())
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error renders err with the status its kind maps to.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)

	attrs := []any{"status", status, "error_code", body.Code, "error", err, "request_id", middleware.GetReqID(r.Context())}

	switch {
	case status >= http.StatusInternalServerError:
		slog.ErrorContext(r.Context(), "request failed", attrs...)
	case status == http.StatusConflict:
		slog.WarnContext(r.Context(), "request rejected", attrs...)
	default:
		slog.InfoContext(r.Context(), "request rejected", attrs...)
	}

	JSON(w, status, body)
}

// Status reports the HTTP status err is rendered with.
func Status(err error) int {
	status, _ := classify(err)
	return status
}

func classify(err error) (int, ErrorBody) {
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		msg := domainErr.Message
		if msg == "" {
			msg = domainErr.Code.Description()
		}

		return statusFor(domainErr.Code), ErrorBody{Code: string(domainErr.Code), Message: msg}
	}

	if apperr.IsInfra(err) {
		return http.StatusServiceUnavailable, ErrorBody{Code: codeInfrastructure, Message: "a backing service is unavailable"}
	}

	return http.StatusInternalServerError, ErrorBody{Code: codeInternal, Message: "internal error"}
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidRequest:
		return http.StatusBadRequest
	case apperr.CodeUserNotFound, apperr.CodeAccountNotFound, apperr.CodeTransactionNotFound:
		return http.StatusNotFound
	case apperr.CodeLockTimeout:
		return http.StatusConflict
	case apperr.CodeLedgerWriteFailedAfterMutation:
		return http.StatusInternalServerError
	case apperr.CodeUserAccountMismatch,
		apperr.CodeTransactionAccountMismatch,
		apperr.CodeAccountAlreadyUnregistered,
		apperr.CodeBalanceNotEmpty,
		apperr.CodeAmountExceedsBalance,
		apperr.CodeCancelMustBeFull,
		apperr.CodeTooOldToCancel,
		apperr.CodeTransactionNotCancellable,
		apperr.CodeMaxAccountsPerUser:
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}
