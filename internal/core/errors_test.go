package core

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

type codedErr struct {
	code string
	err  error
}

func (e *codedErr) Error() string     { return e.code }
func (e *codedErr) Unwrap() error     { return e.err }
func (e *codedErr) CodeValue() string { return e.code }

func TestCodes(t *testing.T) {
	inner := &codedErr{code: "E_SPOOL_WRITE", err: errors.New("disk full")}
	err := NewExtractionError(fmt.Errorf("spool: %w", inner))

	got := Codes(err)
	want := []string{CodeExtraction, "E_SPOOL_WRITE"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Codes() = %v, want %v", got, want)
	}
	if Codes(errors.New("plain")) != nil {
		t.Error("plain error should carry no codes")
	}
}

func TestIsRunFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewAuthError(401, nil), true},
		{fmt.Errorf("run: %w", NewPollError(0, errors.New("refused"))), true},
		{NewUploadError(500, nil), false},
		{NewExtractionError(errors.New("boom")), false},
		{errors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRunFatal(tt.err); got != tt.want {
			t.Errorf("IsRunFatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewPollError(403, errors.New("forbidden"))
	if err.Error() != "E_POLL (HTTP 403): forbidden" {
		t.Errorf("Error() = %q", err.Error())
	}
	if HTTPStatusOf(err) != 403 || !HasCode(err, CodePoll) {
		t.Errorf("status/code lookup failed for %v", err)
	}
}
