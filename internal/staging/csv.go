package staging

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeLayout is how temporal column values are rendered.
const TimeLayout = "2006-01-02 15:04:05"

// Spool writes rows as RFC 4180 CSV with CRLF line endings. The header is
// taken from the first row's columns; a spool that sees no rows stays empty.
type Spool struct {
	file    *os.File
	buf     *bufio.Writer
	w       *csv.Writer
	columns []string
	rows    int64
	record  []string
}

// NewSpool creates a spool file in dir (the OS temp dir when empty).
func NewSpool(dir string) (*Spool, error) {
	f, err := os.CreateTemp(dir, NewStageID()+"-*.csv")
	if err != nil {
		return nil, &Error{Code: CodeSpoolUnavailable, Err: err}
	}
	buf := bufio.NewWriter(f)
	w := csv.NewWriter(buf)
	w.UseCRLF = true
	return &Spool{file: f, buf: buf, w: w}, nil
}

// WriteRow appends one row. values must align with cols.
func (s *Spool) WriteRow(cols []string, values []any) error {
	if s.rows == 0 {
		s.columns = append([]string(nil), cols...)
		if err := s.w.Write(s.columns); err != nil {
			return &Error{Code: CodeSpoolWrite, Err: err}
		}
		s.record = make([]string, len(cols))
	}
	if len(values) != len(s.record) {
		return &Error{Code: CodeSpoolWrite, Err: fmt.Errorf("row has %d values, header has %d columns", len(values), len(s.record))}
	}
	for i, v := range values {
		s.record[i] = FormatValue(v)
	}
	if err := s.w.Write(s.record); err != nil {
		return &Error{Code: CodeSpoolWrite, Err: err}
	}
	s.rows++
	return nil
}

// Finish flushes the spool and returns it as a payload.
func (s *Spool) Finish() (*Payload, error) {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.Abort()
		return nil, &Error{Code: CodeSpoolWrite, Err: err}
	}
	if err := s.buf.Flush(); err != nil {
		s.Abort()
		return nil, &Error{Code: CodeSpoolWrite, Err: err}
	}
	info, err := s.file.Stat()
	if err != nil {
		s.Abort()
		return nil, &Error{Code: CodeSpoolWrite, Err: err}
	}
	path := s.file.Name()
	if err := s.file.Close(); err != nil {
		os.Remove(path)
		return nil, &Error{Code: CodeSpoolWrite, Err: err}
	}
	return &Payload{
		Path:    path,
		Rows:    s.rows,
		Size:    info.Size(),
		Columns: s.columns,
	}, nil
}

// Abort closes and deletes the spool file.
func (s *Spool) Abort() {
	path := s.file.Name()
	s.file.Close()
	os.Remove(path)
}

// FormatValue renders a scanned column value as CSV text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(TimeLayout)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}
