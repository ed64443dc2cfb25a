package ledger

import (
	"errors"
	"fmt"
)

// Code classifies ledger failures. The numeric values are the ABCI result codes
// and must stay stable.
type Code uint32

const (
	CodeOK Code = iota
	CodeInvalidRequest
	CodeUnauthorized
	CodeNotFound
	CodeInvalidTransition
	CodeStagePrecondition
	CodeAlreadyCertified
	CodeInternal
)

// Codespace tags ledger result codes in ABCI responses
const Codespace = "ledger"

var codeNames = map[Code]string{
	CodeOK:                "OK",
	CodeInvalidRequest:    "InvalidRequest",
	CodeUnauthorized:      "Unauthorized",
	CodeNotFound:          "NotFound",
	CodeInvalidTransition: "InvalidTransition",
	CodeStagePrecondition: "StagePrecondition",
	CodeAlreadyCertified:  "AlreadyCertified",
	CodeInternal:          "Internal",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrInvalidRequest    = &Error{Code: CodeInvalidRequest}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrStagePrecondition = &Error{Code: CodeStagePrecondition}
	ErrAlreadyCertified  = &Error{Code: CodeAlreadyCertified}
	ErrInternal          = &Error{Code: CodeInternal}
)

// Error is a ledger failure carrying its kind and the operation context
type Error struct {
	Code    Code
	Op      string
	BatchID uint64
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.BatchID != 0 {
		msg += fmt.Sprintf(" (batch %d)", e.BatchID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches on the error code only
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ledger code of err. Non-ledger errors are Internal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}

func newError(code Code, op string, batchID uint64, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		BatchID: batchID,
		Detail:  fmt.Sprintf(format, args...),
	}
}

func internalError(op string, batchID uint64, err error) *Error {
	return &Error{Code: CodeInternal, Op: op, BatchID: batchID, Err: err}
}
