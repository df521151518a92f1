package domain

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller is expected to react.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindStateConflict
	KindAuthorization
	KindResource
	KindNotFound
	KindExternalProvider
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindAuthorization:
		return "authorization"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not_found"
	case KindExternalProvider:
		return "external_provider"
	default:
		return "internal"
	}
}

// Code is the machine-readable reason attached to an Error.
type Code string

const (
	CodeInvalidAmount    Code = "INVALID_AMOUNT"
	CodeInvalidRate      Code = "INVALID_RATE"
	CodeAmountMismatch   Code = "AMOUNT_MISMATCH"
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeUnknownProvider  Code = "UNKNOWN_PROVIDER"
	CodeInvalidSignature Code = "INVALID_SIGNATURE"

	CodeProjectAlreadyAgreed        Code = "PROJECT_ALREADY_AGREED"
	CodeQuoteNotEditable            Code = "QUOTE_NOT_EDITABLE"
	CodeQuoteNotAccepted            Code = "QUOTE_NOT_ACCEPTED"
	CodeAlreadyReleased             Code = "ALREADY_RELEASED"
	CodeEscrowNotHeld               Code = "ESCROW_NOT_HELD"
	CodeEscrowNotDisputed           Code = "ESCROW_NOT_DISPUTED"
	CodeProjectNotReleasable        Code = "PROJECT_NOT_RELEASABLE"
	CodeProjectAlreadyPaid          Code = "PROJECT_ALREADY_PAID"
	CodeInvalidProjectTransition    Code = "INVALID_PROJECT_TRANSITION"
	CodeWithdrawalNotTransitionable Code = "WITHDRAWAL_NOT_TRANSITIONABLE"

	CodeNotAuthorized Code = "NOT_AUTHORIZED"
	CodePayerMismatch Code = "PAYER_MISMATCH"

	CodeInsufficientBalance       Code = "INSUFFICIENT_BALANCE"
	CodeProjectNotAcceptingQuotes Code = "PROJECT_NOT_ACCEPTING_QUOTES"
	CodeDuplicateQuote            Code = "DUPLICATE_QUOTE"

	CodeNotFound     Code = "NOT_FOUND"
	CodeUserNotFound Code = "USER_NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	CodeProviderFailure Code = "PROVIDER_FAILURE"
)

// Error is the domain error type carried out of every core operation.
type Error struct {
	Kind     Kind
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code so sentinel values work with errors.Is even when the
// returned error carries metadata or a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy of e with the given metadata merged in.
func (e *Error) With(key, value string) *Error {
	out := *e
	out.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[key] = value
	return &out
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.Cause = cause
	return &out
}

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidAmount    = newError(KindValidation, CodeInvalidAmount, "amount must be greater than zero and in minor-unit precision")
	ErrInvalidRate      = newError(KindValidation, CodeInvalidRate, "rate must be between 0 and 1")
	ErrAmountMismatch   = newError(KindValidation, CodeAmountMismatch, "amount does not match the accepted quote")
	ErrInvalidInput     = newError(KindValidation, CodeInvalidInput, "invalid input")
	ErrUnknownProvider  = newError(KindValidation, CodeUnknownProvider, "unknown payment provider")
	ErrInvalidSignature = newError(KindAuthorization, CodeInvalidSignature, "webhook signature verification failed")

	ErrProjectAlreadyAgreed        = newError(KindStateConflict, CodeProjectAlreadyAgreed, "project already has an accepted quote")
	ErrQuoteNotEditable            = newError(KindStateConflict, CodeQuoteNotEditable, "quote is no longer pending")
	ErrQuoteNotAccepted            = newError(KindStateConflict, CodeQuoteNotAccepted, "quote has not been accepted")
	ErrAlreadyReleased             = newError(KindStateConflict, CodeAlreadyReleased, "escrow is not held")
	ErrEscrowNotHeld               = newError(KindStateConflict, CodeEscrowNotHeld, "escrow is not held")
	ErrEscrowNotDisputed           = newError(KindStateConflict, CodeEscrowNotDisputed, "escrow is not disputed")
	ErrProjectNotReleasable        = newError(KindStateConflict, CodeProjectNotReleasable, "project is not in a releasable state")
	ErrProjectAlreadyPaid          = newError(KindStateConflict, CodeProjectAlreadyPaid, "project already has a confirmed payment")
	ErrInvalidProjectTransition    = newError(KindStateConflict, CodeInvalidProjectTransition, "project status transition not allowed")
	ErrWithdrawalNotTransitionable = newError(KindStateConflict, CodeWithdrawalNotTransitionable, "withdrawal status transition not allowed")

	ErrNotAuthorized = newError(KindAuthorization, CodeNotAuthorized, "caller is not authorized for this action")
	ErrPayerMismatch = newError(KindAuthorization, CodePayerMismatch, "payer is not the project owner")

	ErrInsufficientBalance       = newError(KindResource, CodeInsufficientBalance, "insufficient available balance")
	ErrProjectNotAcceptingQuotes = newError(KindResource, CodeProjectNotAcceptingQuotes, "project is not accepting quotes")
	ErrDuplicateQuote            = newError(KindResource, CodeDuplicateQuote, "tradie already has a pending quote on this project")

	ErrNotFound     = newError(KindNotFound, CodeNotFound, "not found")
	ErrUserNotFound = newError(KindNotFound, CodeUserNotFound, "user is not known to the platform")
	ErrConflict = newError(KindStateConflict, CodeConflict, "conflicting write")

	ErrProviderFailure = newError(KindExternalProvider, CodeProviderFailure, "payment provider request failed")
)

// ProviderError wraps an external provider failure. Retryable separates
// infrastructure failures from definitive declines.
func ProviderError(provider string, retryable bool, cause error) *Error {
	e := ErrProviderFailure.Wrap(cause).With("provider", provider)
	if retryable {
		e.Metadata["retryable"] = "true"
	} else {
		e.Metadata["retryable"] = "false"
	}
	return e
}

// KindOf reports the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Kind == KindExternalProvider && de.Metadata["retryable"] == "true"
}
