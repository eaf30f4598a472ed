package ledger

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound                Kind = "NotFound"
	KindInvalidArgument         Kind = "InvalidArgument"
	KindAccountNotActive        Kind = "AccountNotActive"
	KindInsufficientFunds       Kind = "InsufficientFunds"
	KindUnauthorized            Kind = "Unauthorized"
	KindSelfTransfer            Kind = "SelfTransfer"
	KindCurrencyMismatch        Kind = "CurrencyMismatch"
	KindUnsupportedCurrencyPair Kind = "UnsupportedCurrencyPair"
	KindSystemError             Kind = "SystemError"
)

// Stable machine-readable codes returned to callers.
const (
	CodeNotFound                = "NOT_FOUND"
	CodeInvalidArgument         = "INVALID_ARGUMENT"
	CodeAccountNotActive        = "ACCOUNT_NOT_ACTIVE"
	CodeCardNotActive           = "CARD_NOT_ACTIVE"
	CodeInsufficientFunds       = "INSUFFICIENT_FUNDS"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeInvalidOTP              = "INVALID_OTP"
	CodeOTPExpired              = "OTP_EXPIRED"
	CodeSelfTransfer            = "SELF_TRANSFER"
	CodeCurrencyMismatch        = "CURRENCY_MISMATCH"
	CodeUnsupportedCurrencyPair = "UNSUPPORTED_CURRENCY_PAIR"
	CodeSystemError             = "SYSTEM_ERROR"
)

var (
	ErrDuplicateReference  = errors.New("duplicate transaction reference")
	ErrTransactionTerminal = errors.New("transaction already terminal")
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: cause}
}

func notFound(msg string) *Error {
	return newError(KindNotFound, CodeNotFound, msg, nil)
}

func invalidArgument(msg string, cause error) *Error {
	return newError(KindInvalidArgument, CodeInvalidArgument, msg, cause)
}

func systemError(msg string, cause error) *Error {
	return newError(KindSystemError, CodeSystemError, msg, cause)
}

// KindOf reports the Kind of err, or SystemError for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystemError
}

// CodeOf reports the stable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeSystemError
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
