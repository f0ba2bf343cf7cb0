package staging

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// Payload is a finished CSV spool. It can be opened any number of times.
type Payload struct {
	Path    string
	Rows    int64
	Size    int64
	Columns []string
}

// Open returns a reader positioned at the first byte.
func (p *Payload) Open() (io.ReadSeekCloser, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, &Error{Code: CodeSpoolUnavailable, Err: err}
	}
	return f, nil
}

// Bytes reads the whole payload into memory.
func (p *Payload) Bytes() ([]byte, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, &Error{Code: CodeSpoolUnavailable, Err: err}
	}
	return data, nil
}

// Remove deletes the spool file. Removing twice is not an error.
func (p *Payload) Remove() error {
	if p == nil || p.Path == "" {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
