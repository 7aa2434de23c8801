package model

import "errors"

// Load error taxonomy. Each sentinel names one of the loader's closed set
// of failure modes; a non-nil error from the loader is always one of
// these, wrapped with context via fmt.Errorf("%w: ...", ...).
var (
	ErrOpen     = errors.New("tcd: file not openable")
	ErrInfo     = errors.New("tcd: debug sections malformed")
	ErrCompUnit = errors.New("tcd: compilation unit header corrupt")
	ErrLines    = errors.New("tcd: line program malformed")
	ErrFunction = errors.New("tcd: function subtree malformed")
	ErrLocal    = errors.New("tcd: local variable subtree malformed")
	ErrType     = errors.New("tcd: type subtree malformed")
)
