package usecase

import (
	"errors"
	"fmt"
	"net/http"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/workbook"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorRateLimited  ErrorCode = "RATE_LIMITED"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classify converts a stage failure into a coded Error. reasonPrefix names
// the stage, e.g. "mapping" yields "mapping_llm_error".
func classify(reasonPrefix string, err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	if errors.Is(err, workbook.ErrInvalidInput) {
		return newError(ErrorInvalidInput, reasonPrefix+"_invalid_input", err)
	}

	var svcErr *assembly.ServiceError
	if errors.As(err, &svcErr) {
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			return newError(ErrorRateLimited, reasonPrefix+"_llm_rate_limited", err)
		}
		return newError(ErrorUpstream, reasonPrefix+"_llm_error", err)
	}
	var asmErr *assembly.AssemblyError
	if errors.As(err, &asmErr) {
		return newError(ErrorUpstream, reasonPrefix+"_"+string(asmErr.Kind)+"_output", err)
	}
	return newError(ErrorInternal, reasonPrefix+"_internal_error", err)
}
