package ordertask

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, caller-visible identifier of a failure.
type ErrorCode string

const (
	CodeInvalidParams      ErrorCode = "INVALID_PARAMS"
	CodeItemLookupFailed   ErrorCode = "ITEM_LOOKUP_FAILED"
	CodeItemNotOnSale      ErrorCode = "ITEM_NOT_ON_SALE"
	CodeTaskIDInvalid      ErrorCode = "TASK_ID_INVALID"
	CodeSubmissionFailed   ErrorCode = "SUBMISSION_FAILED"
	CodeProcessingFailed   ErrorCode = "PROCESSING_FAILED"
	CodeInsufficientStock  ErrorCode = "INSUFFICIENT_STOCK"
	CodeActivityNotAllowed ErrorCode = "ACTIVITY_NOT_ALLOWED"
	CodeItemNotAllowed     ErrorCode = "ITEM_NOT_ALLOWED"
	CodeStatusUnavailable  ErrorCode = "STATUS_UNAVAILABLE"
)

// Error is a typed failure carrying a code and a human-readable message.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidParams     = &Error{Code: CodeInvalidParams, Message: "invalid params"}
	ErrItemLookupFailed  = &Error{Code: CodeItemLookupFailed, Message: "failed to get flash item"}
	ErrItemNotOnSale     = &Error{Code: CodeItemNotOnSale, Message: "flash item is not on sale"}
	ErrTaskIDInvalid     = &Error{Code: CodeTaskIDInvalid, Message: "place order task id is invalid"}
	ErrSubmissionFailed  = &Error{Code: CodeSubmissionFailed, Message: "failed to submit place order task"}
	ErrProcessingFailed  = &Error{Code: CodeProcessingFailed, Message: "failed to place order"}
	ErrInsufficientStock = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrStatusUnavailable = &Error{Code: CodeStatusUnavailable, Message: "task status unavailable"}
)

func wrapError(base *Error, err error) *Error {
	return &Error{Code: base.Code, Message: base.Message, Err: err}
}

// CodeOf extracts the ErrorCode from err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
