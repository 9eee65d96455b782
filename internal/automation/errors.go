package automation

import (
	"errors"
	"fmt"
)

// ErrMergerClosed is returned by Merge after Close.
var ErrMergerClosed = errors.New("automation merger closed")

// ParseError reports a model reply that is not a single YAML mapping.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse automation: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// FileError reports a failure reading, decoding, encoding or writing the
// automations file.
type FileError struct {
	Op   string // read|decode|encode|write
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
