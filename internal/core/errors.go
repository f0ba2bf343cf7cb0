package core

import (
	"errors"
	"fmt"
)

const (
	CodeAuth              = "E_AUTH"
	CodePoll              = "E_POLL"
	CodeInvalidJob        = "E_INVALID_JOB"
	CodeUnsupportedSource = "E_UNSUPPORTED_SOURCE"
	CodeExtraction        = "E_EXTRACTION"
	CodeUpload            = "E_UPLOAD"
)

var (
	ErrMissingInstanceID = errors.New("job instance id is missing")
	ErrMissingQuery      = errors.New("job has no query")
	ErrMissingConnection = errors.New("job has no connection config")
	ErrNoUploadURL       = errors.New("upload descriptor has no sas_url")
)

// Error is a pipeline failure tagged with the stage that produced it.
// HTTPStatus is zero when the failure happened below the HTTP layer.
type Error struct {
	Code       string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Code
	if e.HTTPStatus != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.HTTPStatus)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error     { return e.Err }
func (e *Error) CodeValue() string { return e.Code }

// RunFatal reports whether the failure aborts the whole run rather than a single job.
func (e *Error) RunFatal() bool {
	return e.Code == CodeAuth || e.Code == CodePoll
}

func NewAuthError(status int, err error) *Error {
	return &Error{Code: CodeAuth, HTTPStatus: status, Err: err}
}

func NewPollError(status int, err error) *Error {
	return &Error{Code: CodePoll, HTTPStatus: status, Err: err}
}

func NewInvalidJobError(err error) *Error {
	return &Error{Code: CodeInvalidJob, Err: err}
}

func NewUnsupportedSourceError(source SourceType) *Error {
	return &Error{Code: CodeUnsupportedSource, Err: fmt.Errorf("unsupported sync source: %q", source)}
}

func NewExtractionError(err error) *Error {
	return &Error{Code: CodeExtraction, Err: err}
}

func NewUploadError(status int, err error) *Error {
	return &Error{Code: CodeUpload, HTTPStatus: status, Err: err}
}

// HasCode reports whether err carries the given pipeline code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// HTTPStatusOf returns the HTTP status attached to err, or zero.
func HTTPStatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus
	}
	return 0
}

// Coded is implemented by errors that carry a machine-readable code.
type Coded interface {
	CodeValue() string
}

// Codes lists the codes found walking err's unwrap chain, outermost first.
func Codes(err error) []string {
	var codes []string
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if c, ok := cur.(Coded); ok && c.CodeValue() != "" {
			codes = append(codes, c.CodeValue())
		}
	}
	return codes
}

// IsRunFatal reports whether err aborted a whole run.
func IsRunFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.RunFatal()
}
