// Package apperr defines the error kinds callers of the ledger can observe.
//
// Domain rejections are *Error values carrying a Code and compare equal
// under errors.Is when their codes match, so callers can test against the
// exported sentinels. Failures of a backing store or of the lock service
// are wrapped in *InfraError and never carry a domain code.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a caller-visible failure.
type Code string

const (
	CodeInvalidRequest                 Code = "INVALID_REQUEST"
	CodeUserNotFound                   Code = "USER_NOT_FOUND"
	CodeAccountNotFound                Code = "ACCOUNT_NOT_FOUND"
	CodeTransactionNotFound            Code = "TRANSACTION_NOT_FOUND"
	CodeUserAccountMismatch            Code = "USER_ACCOUNT_MISMATCH"
	CodeTransactionAccountMismatch     Code = "TRANSACTION_ACCOUNT_MISMATCH"
	CodeAccountAlreadyUnregistered     Code = "ACCOUNT_ALREADY_UNREGISTERED"
	CodeBalanceNotEmpty                Code = "BALANCE_NOT_EMPTY"
	CodeAmountExceedsBalance           Code = "AMOUNT_EXCEEDS_BALANCE"
	CodeCancelMustBeFull               Code = "CANCEL_MUST_BE_FULL"
	CodeTooOldToCancel                 Code = "TOO_OLD_TO_CANCEL"
	CodeTransactionNotCancellable      Code = "TRANSACTION_NOT_CANCELLABLE"
	CodeMaxAccountsPerUser             Code = "MAX_ACCOUNTS_PER_USER"
	CodeLockTimeout                    Code = "LOCK_TIMEOUT"
	CodeLedgerWriteFailedAfterMutation Code = "LEDGER_WRITE_FAILED_AFTER_MUTATION"
)

var descriptions = map[Code]string{
	CodeInvalidRequest:                 "invalid request",
	CodeUserNotFound:                   "user not found",
	CodeAccountNotFound:                "account not found",
	CodeTransactionNotFound:            "transaction not found",
	CodeUserAccountMismatch:            "account is not owned by the user",
	CodeTransactionAccountMismatch:     "transaction does not belong to the account",
	CodeAccountAlreadyUnregistered:     "account is already unregistered",
	CodeBalanceNotEmpty:                "account balance is not empty",
	CodeAmountExceedsBalance:           "amount exceeds account balance",
	CodeCancelMustBeFull:               "cancel amount must equal the original amount",
	CodeTooOldToCancel:                 "transaction is too old to cancel",
	CodeTransactionNotCancellable:      "transaction cannot be cancelled",
	CodeMaxAccountsPerUser:             "user already holds the maximum number of accounts",
	CodeLockTimeout:                    "account is busy, try again later",
	CodeLedgerWriteFailedAfterMutation: "balance changed but the ledger entry could not be written",
}

// Description returns the default human readable message for the code.
func (c Code) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}

	return string(c)
}

// Fatal reports whether the code signals an inconsistency that must never be swallowed.
func (c Code) Fatal() bool {
	return c == CodeLedgerWriteFailedAfterMutation
}

// Error is a typed domain failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Description()
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code == e.Code
}

// New returns an error for code with its default message.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Newf returns an error for code with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a domain code.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidRequest                 = New(CodeInvalidRequest)
	ErrUserNotFound                   = New(CodeUserNotFound)
	ErrAccountNotFound                = New(CodeAccountNotFound)
	ErrTransactionNotFound            = New(CodeTransactionNotFound)
	ErrUserAccountMismatch            = New(CodeUserAccountMismatch)
	ErrTransactionAccountMismatch     = New(CodeTransactionAccountMismatch)
	ErrAccountAlreadyUnregistered     = New(CodeAccountAlreadyUnregistered)
	ErrBalanceNotEmpty                = New(CodeBalanceNotEmpty)
	ErrAmountExceedsBalance           = New(CodeAmountExceedsBalance)
	ErrCancelMustBeFull               = New(CodeCancelMustBeFull)
	ErrTooOldToCancel                 = New(CodeTooOldToCancel)
	ErrTransactionNotCancellable      = New(CodeTransactionNotCancellable)
	ErrMaxAccountsPerUser             = New(CodeMaxAccountsPerUser)
	ErrLockTimeout                    = New(CodeLockTimeout)
	ErrLedgerWriteFailedAfterMutation = New(CodeLedgerWriteFailedAfterMutation)
)

// CodeOf extracts the domain code from err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}

	return "", false
}

// IsFatal reports whether err carries a fatal domain code.
func IsFatal(err error) bool {
	code, ok := CodeOf(err)
	return ok && code.Fatal()
}

// InfraError wraps a failure of a dependency such as the database or the lock service.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("infrastructure: %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Infra wraps err as an infrastructure failure. A nil err stays nil and
// errors that already carry a domain code or infra kind pass through.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}

	if _, ok := CodeOf(err); ok {
		return err
	}

	if IsInfra(err) {
		return err
	}

	return &InfraError{Op: op, Err: err}
}

// IsInfra reports whether err is, or wraps, an infrastructure failure.
func IsInfra(err error) bool {
	var e *InfraError
	return errors.As(err, &e)
}
