package staging

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestSpool_HeaderFromFirstRowAndCRLF(t *testing.T) {
	s, err := NewSpool(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	cols := []string{"id", "name", "note"}
	if err := s.WriteRow(cols, []any{int64(1), []byte("Ann"), nil}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if err := s.WriteRow(cols, []any{int64(2), "O'Brien, Pat", `say "hi"`}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	p, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer p.Remove()

	got, err := p.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := "id,name,note\r\n1,Ann,\r\n2,\"O'Brien, Pat\",\"say \"\"hi\"\"\"\r\n"
	if string(got) != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
	if p.Rows != 2 {
		t.Errorf("rows = %d, want 2", p.Rows)
	}
	if p.Size != int64(len(want)) {
		t.Errorf("size = %d, want %d", p.Size, len(want))
	}
	if strings.Join(p.Columns, ",") != "id,name,note" {
		t.Errorf("columns = %v", p.Columns)
	}
}

func TestSpool_ZeroRowsIsEmpty(t *testing.T) {
	s, err := NewSpool(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	p, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer p.Remove()

	if p.Rows != 0 || p.Size != 0 {
		t.Errorf("rows=%d size=%d, want empty payload", p.Rows, p.Size)
	}
}

func TestSpool_MismatchedRow(t *testing.T) {
	s, err := NewSpool(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	defer s.Abort()

	if err := s.WriteRow([]string{"a"}, []any{"1"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	err = s.WriteRow([]string{"a"}, []any{"1", "2"})
	var se *Error
	if !errors.As(err, &se) || se.Code != CodeSpoolWrite {
		t.Fatalf("expected %s, got %v", CodeSpoolWrite, err)
	}
}

func TestPayload_ReopenAndRemove(t *testing.T) {
	s, _ := NewSpool(t.TempDir())
	_ = s.WriteRow([]string{"x"}, []any{int64(1)})
	p, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	for i := 0; i < 2; i++ {
		r, err := p.Open()
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		data, _ := io.ReadAll(r)
		r.Close()
		if string(data) != "x\r\n1\r\n" {
			t.Errorf("read %d = %q", i, data)
		}
	}

	if err := p.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(p.Path); !os.IsNotExist(err) {
		t.Errorf("spool file still exists: %v", err)
	}
	if err := p.Remove(); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{[]byte("b"), "b"},
		{ts, "2024-03-01 14:05:09"},
		{true, "1"},
		{false, "0"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{int32(3), "3"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
