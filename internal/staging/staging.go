// Package staging spools extracted rows to a local CSV file so the upload
// step can replay identical bytes on every attempt.
package staging

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrorCode represents a structured staging error code.
type ErrorCode string

const (
	CodeSpoolUnavailable ErrorCode = "E_SPOOL_UNAVAILABLE"
	CodeSpoolWrite       ErrorCode = "E_SPOOL_WRITE"
)

// Error carries a staging error code.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeValue returns the string error code.
func (e *Error) CodeValue() string { return string(e.Code) }

// NewStageID creates an opaque identifier for one spool file.
func NewStageID() string {
	return "stage-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
